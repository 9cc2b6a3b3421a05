package main

// General API documentation for swaggo. The generated spec lives in
// internal/apidocs and is served when built with -tags=swagger.
//
// @title           diffusiond API
// @version         1.0
// @description     HTTP API for text-to-image and image-to-image generation on a provisioned diffusion pipeline.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
