package accounts

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/internal/gateway/gatewaytest"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/db/dbtest"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

func newService(t *testing.T) (Service, *gatewaytest.Fake, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	gw := &gatewaytest.Fake{}
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(client.DB()),
		Ledger:            ledger.NewRepository(client.DB()),
		Gateway:           gw,
		TransactionRunner: client,
		Logger:            logger.New(logger.Options{Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc, gw, client
}

func auditActions(t *testing.T, client *db.Client) []enums.AuditAction {
	t.Helper()
	var logs []models.AuditLog
	require.NoError(t, client.DB().Order("created_at").Find(&logs).Error)
	out := make([]enums.AuditAction, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func TestCreateGetDelete(t *testing.T) {
	svc, gw, client := newService(t)
	ctx := context.Background()

	account, err := svc.Create(ctx, CreateAccountInput{EducatorID: "edu_1", Email: "edu@example.com"})
	require.NoError(t, err)
	require.Equal(t, "acct_edu_1", account.StripeAccountID)

	got, err := svc.Get(ctx, "edu_1")
	require.NoError(t, err)
	require.Equal(t, account.ID, got.ID)

	require.NoError(t, svc.Delete(ctx, "edu_1", "edu_1"))
	require.Equal(t, []string{"acct_edu_1"}, gw.Deleted)

	_, err = svc.Get(ctx, "edu_1")
	var typed *pkgerrors.Error
	require.True(t, errors.As(err, &typed))
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	require.Equal(t, []enums.AuditAction{enums.AuditActionAccountCreated, enums.AuditActionAccountDeleted}, auditActions(t, client))
}

func TestCreateRejectsDuplicateWithoutGatewayCall(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateAccountInput{EducatorID: "edu_1", Email: "edu@example.com"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateAccountInput{EducatorID: "edu_1", Email: "edu@example.com"})
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindAccountAlreadyExists))
	require.Len(t, gw.Accounts, 1)
}

func TestCreateMapsGatewayFailure(t *testing.T) {
	svc, gw, client := newService(t)
	gw.AccountErr = errors.New("stripe down")

	_, err := svc.Create(context.Background(), CreateAccountInput{EducatorID: "edu_1", Email: "edu@example.com"})
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindGatewayUnavailable))
	require.Empty(t, auditActions(t, client))
}

func TestCreateValidatesInput(t *testing.T) {
	svc, gw, _ := newService(t)

	_, err := svc.Create(context.Background(), CreateAccountInput{Email: "edu@example.com"})
	require.Error(t, err)
	_, err = svc.Create(context.Background(), CreateAccountInput{EducatorID: "edu_1"})
	require.Error(t, err)
	require.Empty(t, gw.Accounts)
}

func TestForgetDeauthorizedAccount(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateAccountInput{EducatorID: "edu_1", Email: "edu@example.com"})
	require.NoError(t, err)

	removed, err := svc.Forget(ctx, "acct_edu_1", "stripe")
	require.NoError(t, err)
	require.True(t, removed)
	require.Empty(t, gw.Deleted)

	removed, err = svc.Forget(ctx, "acct_edu_1", "stripe")
	require.NoError(t, err)
	require.False(t, removed)
}
