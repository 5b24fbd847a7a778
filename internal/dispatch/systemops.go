package dispatch

import (
	"context"
	"io"

	"github.com/OpenPrinting/goipp"

	"github.com/infraprint/infraprintd/internal/access"
	"github.com/infraprint/infraprintd/internal/ippattr"
	"github.com/infraprint/infraprintd/internal/store"
)

func registerSystemOps(t map[goipp.Op]handlerFunc) {
	t[goipp.OpSetSystemAttributes] = handleSetSystemAttributes
	t[goipp.OpRestartSystem] = handleRestartSystem
}

// systemImmutable names the computed/identity system attributes a client
// may not overwrite via Set-System-Attributes.
var systemImmutable = map[string]bool{
	"system-uuid":                    true,
	"system-uri-supported":           true,
	"system-config-change-time":      true,
	"system-config-change-date-time": true,
}

func handleSetSystemAttributes(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	for _, attr := range req.System {
		if systemImmutable[attr.Name] {
			continue
		}
		d.Store.SetSystemAttr(attr)
	}
	d.Events.Emit(store.EventSystemConfigChanged, 0, 0, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}

// handleRestartSystem resets every printer's own printer-restarted state
// reason, the Infrastructure Printer analogue of a service restart,
// without actually tearing the process down.
func handleRestartSystem(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	if !d.Access.Allow(user, access.ScopeAdmin, "") {
		return errorResponse(goipp.StatusErrorNotAuthorized, req.RequestID)
	}

	for _, p := range d.Store.Printers.All() {
		d.Events.Emit(store.EventPrinterRestarted, p.ID, 0, 0, nil)
	}
	d.Events.Emit(store.EventSystemStateChanged, 0, 0, 0, nil)
	return ippattr.NewResponse(goipp.StatusOk, req.RequestID)
}
