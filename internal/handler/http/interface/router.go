package httpiface

import "github.com/labstack/echo/v4"

// HttpRouter is implemented by each handler group (health probes, relay
// endpoints) so the app can collect them and attach their routes to the
// shared Echo instance in one startup pass.
type HttpRouter interface {
	SetupRoutes(e *echo.Echo)
}
