package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cashplace/escrow/internal/auth"
	"github.com/cashplace/escrow/internal/domain"
	"github.com/cashplace/escrow/internal/escrow"
	"github.com/cashplace/escrow/internal/ledger/ledgertest"
	"github.com/cashplace/escrow/internal/observability"
	"github.com/cashplace/escrow/internal/repository"
	apperrors "github.com/cashplace/escrow/pkg/util/errorutil"
)

func newEscrowService(t *testing.T) (*EscrowService, *ledgertest.Factory) {
	t.Helper()
	factory := ledgertest.NewFactory("btc")
	registry, err := escrow.NewRegistry(escrow.Config{
		Policy: escrow.Policy{
			ConfigurationDelay: time.Hour,
			ReceptionDelay:     time.Hour,
			ReceivedDelay:      time.Hour,
			SendingDelay:       time.Hour,
			SentDelay:          time.Hour,
			DisputeDelay:       time.Hour,
		},
		Currencies: []escrow.Currency{{
			Factory: factory,
			Payout:  escrow.Payout{Rate: 0.9, MasterAddress: "master-addr", Confirmations: 1, StaticMinimal: 1000},
		}},
		Store:  repository.NewMemoryTicketRepository(),
		Hasher: auth.NewPasswordHasher(auth.Argon2Params{Time: 1, MemoryKiB: 8, Threads: 1}),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return NewEscrowService(EscrowDependencies{
		Registry: registry,
		Metrics:  observability.NewMetrics(),
		Logger:   zap.NewNop(),
	}), factory
}

func TestEscrowServicePartyFlow(t *testing.T) {
	ctx := context.Background()
	svc, factory := newEscrowService(t)

	created, err := svc.CreateTicket(ctx, " BTC ")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusConfiguration, created.View.Status)

	spender := Credentials{TicketID: created.View.ID, Code: created.SpenderCode, Password: "s-pass"}
	receiver := Credentials{TicketID: created.View.ID, Code: created.ReceiverCode, Password: "r-pass"}

	view, err := svc.SetAmount(ctx, spender, 50000)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSpender, view.Role)
	assert.Equal(t, domain.MasterSpender, view.Master)

	_, err = svc.SetLeftoverAddress(ctx, spender, " leftover-addr ")
	require.NoError(t, err)

	_, err = svc.SetReceiverAddress(ctx, spender, "receiver-addr")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	_, err = svc.SetReceiverAddress(ctx, receiver, "receiver-addr")
	require.NoError(t, err)

	view, err = svc.CompleteConfiguration(ctx, receiver)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReception, view.Status)
	assert.Equal(t, "leftover-addr", view.LeftoverAddress)

	factory.Account(created.View.ID).SetBalance(50000, 1)
	view, err = svc.RefreshBalance(ctx, receiver)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusReceived, view.Status)

	_, _, err = svc.Finalize(ctx, receiver, false)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	txid, view, err := svc.Finalize(ctx, spender, false)
	require.NoError(t, err)
	assert.NotEmpty(t, txid)
	assert.Equal(t, domain.TicketStatusSending, view.Status)
}

func TestEscrowServiceRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newEscrowService(t)
	created, err := svc.CreateTicket(ctx, "btc")
	require.NoError(t, err)

	_, err = svc.GetTicket(ctx, Credentials{TicketID: "missing", Code: created.SpenderCode, Password: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = svc.GetTicket(ctx, Credentials{TicketID: created.View.ID, Code: "bogus", Password: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	_, err = svc.GetTicket(ctx, Credentials{TicketID: created.View.ID, Code: created.SpenderCode, Password: "first"})
	require.NoError(t, err)
	_, err = svc.GetTicket(ctx, Credentials{TicketID: created.View.ID, Code: created.SpenderCode, Password: "second"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	_, err = svc.CreateTicket(ctx, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = svc.CreateTicket(ctx, "doge")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnsupportedKind))
}

func TestEscrowServiceOperatorActions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newEscrowService(t)
	first, err := svc.CreateTicket(ctx, "btc")
	require.NoError(t, err)
	_, err = svc.CreateTicket(ctx, "btc")
	require.NoError(t, err)

	assert.Len(t, svc.ListTickets(nil), 2)
	reception := domain.TicketStatusReception
	assert.Empty(t, svc.ListTickets(&reception))

	require.NoError(t, svc.DeleteTicket(ctx, first.View.ID, "ops"))
	assert.Len(t, svc.ListTickets(nil), 1)
	err = svc.DeleteTicket(ctx, first.View.ID, "ops")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	report := svc.Sweep(ctx)
	assert.Equal(t, 1, report.Visited)
	assert.Equal(t, int64(1), svc.Metrics().Sweep.Runs)
	assert.Equal(t, []string{"btc"}, svc.Kinds())
}

func TestEscrowServiceMinimalAmount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newEscrowService(t)
	created, err := svc.CreateTicket(ctx, "btc")
	require.NoError(t, err)

	minimal, err := svc.MinimalAmount(ctx, Credentials{TicketID: created.View.ID, Code: created.ReceiverCode, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), minimal)
}
