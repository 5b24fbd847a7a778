package dispatch

import (
	"context"
	"io"

	"github.com/OpenPrinting/goipp"
)

// registerUnsupportedOps wires operations this daemon deliberately does
// not implement — resubmission/scheduling ops and the resource-management
// family, neither of which spec.md §4.6's operation list names — to an
// explicit handler rather than leaving them to Handle's unregistered-op
// fallback, so the choice not to support them is visible in this table
// rather than implicit in what's missing from it.
func registerUnsupportedOps(t map[goipp.Op]handlerFunc) {
	unsupported := []goipp.Op{
		goipp.OpRestartJob,
		goipp.OpResubmitJob,
		goipp.OpPromoteJob,
		goipp.OpScheduleJobAfter,
		goipp.OpCancelResource,
		goipp.OpCreateResource,
		goipp.OpInstallResource,
		goipp.OpSendResourceData,
		goipp.OpSetResourceAttributes,
		goipp.OpGetResourceAttributes,
		goipp.OpGetResourceData,
		goipp.OpGetResources,
		goipp.OpAllocatePrinterResources,
		goipp.OpDeallocatePrinterResources,
		goipp.OpCreateResourceSubscriptions,
	}
	for _, op := range unsupported {
		t[op] = handleOperationNotSupported
	}
}

func handleOperationNotSupported(d *Dispatcher, ctx context.Context, req *goipp.Message, tgt target, user string, body io.Reader) *goipp.Message {
	return errorResponse(goipp.StatusErrorOperationNotSupported, req.RequestID)
}
