package main

// General API documentation for swaggo. The served document lives in
// internal/httpapi/apidoc and is mounted with -tags=swagger.
//
// @title           speechd API
// @version         1.0
// @description     Admin API for on-demand speech model loading and idle eviction.
//
// @contact.name   speechd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
