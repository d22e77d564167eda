package ipc

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, manager ManagerInterface) {
	e.GET("/status", statusHandler(manager))
	e.GET("/displays", displaysHandler(manager))
	e.POST("/stop", stopHandler(manager))
	e.POST("/power", powerHandler(manager))
	e.POST("/vsync", vsyncHandler(manager))
	e.POST("/hotplug", hotplugHandler(manager))
}
