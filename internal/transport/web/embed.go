// Package web 内嵌前端静态资源，保证单二进制即可服务页面。
package web

import "embed"

//go:embed static
var Static embed.FS
