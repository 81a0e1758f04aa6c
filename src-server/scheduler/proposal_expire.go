package scheduler

import (
	"context"
	"log/slog"
	"time"

	"slotd/src-server/proposal"
	"slotd/src-server/utils"
)

// ProposalExpire persists the expired status for pending proposals past
// their deadline. Readers already treat them as expired before the
// sweep runs; this keeps the stored rows in agreement.
func ProposalExpire(as *utils.AppState, proposalManager *proposal.Manager) {
	for {
		time.Sleep(as.Config.GetExpireSweepInterval())

		expired, err := proposalManager.ExpireDue(context.Background())
		if err != nil {
			slog.Error("ProposalExpire: can't expire proposals", "error", err)
			continue
		}
		if expired == 0 {
			continue
		}
		slog.Info("ProposalExpire: proposals expired", "count", expired)

		select {
		case as.MetricChans.ProposalsExpired <- expired:
		default:
		}
	}
}
