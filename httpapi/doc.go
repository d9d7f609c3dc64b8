// Package httpapi exposes the authcore engine over HTTP using echo.
//
// Every error body is {"error": "<code>"}. All authentication failures share
// the code "unauthorized" so clients cannot tell an unknown refresh token
// from a reused one, or a wrong password from an unknown email.
package httpapi
