package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter installs the operational routes first so health checks stay
// reachable regardless of what the other routers mount.
func InstallRouter(app *fiber.App, ops *OpsRouter, routers ...Router) {
	setup(app, append([]Router{ops}, routers...)...)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
