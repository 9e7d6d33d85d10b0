// Package httpapi serves the token endpoints over echo: login, refresh,
// logout and the current identity.
package httpapi
