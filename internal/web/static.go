package web

import "embed"

// staticFiles holds the preview page and its assets.
//
//go:embed static/*
var staticFiles embed.FS
