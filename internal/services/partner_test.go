package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/metrics"
	"github.com/diewo77/go-partners/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var testNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

type fakeCRM struct {
	completed []string
	activated []string
	err       error
}

func (f *fakeCRM) DocumentsCompleted(_ context.Context, contactID, _ string) error {
	f.completed = append(f.completed, contactID)
	return f.err
}

func (f *fakeCRM) ActivatePartner(_ context.Context, contactID, _ string) error {
	f.activated = append(f.activated, contactID)
	return f.err
}

// ownerOnly allows the partner's owner and nobody else.
type ownerOnly struct{ user uint }

func (o ownerOnly) Authorize(_ context.Context, _ gate.Action, _ string, resource any) error {
	if p, ok := resource.(*models.Partner); ok && p.GetUserID() == o.user {
		return nil
	}
	return gate.ErrUnauthorized
}

func newTestPartnerService(db *gorm.DB, crm CRM, authz Authorizer, log *zap.Logger) *PartnerService {
	s := NewPartnerService(db, crm, authz, log)
	s.now = func() time.Time { return testNow }
	return s
}

func seedPartner(t *testing.T, db *gorm.DB, owner uint) *models.Partner {
	t.Helper()
	p := &models.Partner{
		BusinessName:    "Summit Yoga",
		ContactName:     "Rae Lin",
		ContactEmail:    "rae@summit.example",
		GHLContactID:    "contact-9",
		Status:          models.PartnerPending,
		DocumentsStatus: models.DocumentsNotStarted,
	}
	if owner != 0 {
		p.UserID = &owner
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func reload(t *testing.T, db *gorm.DB, id string) models.Partner {
	t.Helper()
	var p models.Partner
	require.NoError(t, db.Where("id = ?", id).First(&p).Error)
	return p
}

func signInput(partnerID, docType string) SignInput {
	return SignInput{
		PartnerID:     partnerID,
		DocumentType:  docType,
		Signature:     "data:image/png;base64,AAAA",
		SignedByName:  "Rae Lin",
		SignedByEmail: "Rae@Summit.example",
		IPAddress:     "203.0.113.7",
	}
}

func TestSignRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	_, err := newTestPartnerService(nil, nil, nil, nil).Sign(ctx, signInput("p", models.DocMutualNDA))
	assert.ErrorIs(t, err, ErrInvalidDocumentType)

	_, err = newTestPartnerService(nil, nil, nil, nil).Sign(ctx, signInput("p", models.DocW9))
	assert.ErrorIs(t, err, ErrDatabaseNotConfigured)

	_, err = newTestPartnerService(newTestDB(t), nil, nil, nil).Sign(ctx, signInput("missing", models.DocW9))
	assert.ErrorIs(t, err, ErrPartnerNotFound)
}

func TestSignForbiddenForNonOwner(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 7)
	svc := newTestPartnerService(db, nil, ownerOnly{user: 8}, nil)

	_, err := svc.Sign(context.Background(), signInput(p.ID, models.DocW9))
	assert.ErrorIs(t, err, ErrForbidden)

	var count int64
	db.Model(&models.PartnerDocument{}).Count(&count)
	assert.Zero(t, count)
}

func TestSignAllDocuments(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 7)
	crm := &fakeCRM{}
	svc := newTestPartnerService(db, crm, ownerOnly{user: 7}, nil)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.DocumentsSigned.WithLabelValues(models.DocW9, metrics.SourcePortal))

	res, err := svc.Sign(ctx, signInput(p.ID, models.DocPartnerAgreement))
	require.NoError(t, err)
	assert.Equal(t, "partner_agreement signed successfully", res.Message)
	assert.False(t, res.AllDocumentsSigned)
	assert.False(t, res.AutomationTriggered)
	assert.Equal(t, DocumentFlags{AgreementSigned: true}, res.DocumentStatus)

	got := reload(t, db, p.ID)
	assert.Equal(t, models.PartnerDocumentsPending, got.Status)
	assert.Equal(t, models.DocumentsPending, got.DocumentsStatus)

	_, err = svc.Sign(ctx, signInput(p.ID, models.DocPartnerAgreement))
	assert.ErrorIs(t, err, ErrAlreadySigned)

	_, err = svc.Sign(ctx, signInput(p.ID, models.DocW9))
	require.NoError(t, err)
	res, err = svc.Sign(ctx, signInput(p.ID, models.DocDirectDeposit))
	require.NoError(t, err)
	assert.True(t, res.AllDocumentsSigned)
	assert.True(t, res.AutomationTriggered)
	assert.Equal(t, []string{"contact-9"}, crm.completed)

	got = reload(t, db, p.ID)
	assert.Equal(t, models.PartnerUnderReview, got.Status)
	assert.Equal(t, models.DocumentsCompleted, got.DocumentsStatus)
	require.NotNil(t, got.DocumentsCompletedAt)
	assert.True(t, got.DocumentsCompletedAt.Equal(testNow))

	var doc models.PartnerDocument
	require.NoError(t, db.Where("partner_id = ? AND document_type = ?", p.ID, models.DocW9).First(&doc).Error)
	assert.Equal(t, models.DocumentSigned, doc.Status)
	assert.Equal(t, "rae@summit.example", doc.SignedByEmail)
	assert.Equal(t, "203.0.113.7", doc.IPAddress)

	after := testutil.ToFloat64(metrics.DocumentsSigned.WithLabelValues(models.DocW9, metrics.SourcePortal))
	assert.Equal(t, before+1, after)
}

func TestSignSwallowsAutomationFailure(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 0)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := newTestPartnerService(db, &fakeCRM{err: errors.New("ghl api error: 502 - bad gateway")}, nil, zap.New(core))
	ctx := context.Background()

	for _, dt := range models.SignableDocumentTypes {
		res, err := svc.Sign(ctx, signInput(p.ID, dt))
		require.NoError(t, err)
		if dt == models.DocDirectDeposit {
			assert.True(t, res.AllDocumentsSigned)
			assert.False(t, res.AutomationTriggered)
		}
	}
	assert.Equal(t, 1, logs.FilterMessage("documents-completed automation failed").Len())
}

func TestSignUpdatesExistingSentDocument(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 0)
	sent := testNow.Add(-time.Hour)
	require.NoError(t, db.Create(&models.PartnerDocument{
		PartnerID: p.ID, DocumentType: models.DocW9, Status: models.DocumentSent, SentAt: &sent, GHLDocumentID: "doc-1",
	}).Error)

	_, err := newTestPartnerService(db, nil, nil, nil).Sign(context.Background(), signInput(p.ID, models.DocW9))
	require.NoError(t, err)

	var docs []models.PartnerDocument
	require.NoError(t, db.Where("partner_id = ?", p.ID).Find(&docs).Error)
	require.Len(t, docs, 1)
	assert.Equal(t, models.DocumentSigned, docs[0].Status)
	assert.Equal(t, "doc-1", docs[0].GHLDocumentID)
}

func TestStatus(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 7)
	svc := newTestPartnerService(db, nil, ownerOnly{user: 7}, nil)
	ctx := context.Background()

	_, err := svc.Sign(ctx, signInput(p.ID, models.DocW9))
	require.NoError(t, err)

	st, err := svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, st.PartnerID)
	assert.Equal(t, models.DocumentsPending, st.DocumentsStatus)
	assert.False(t, st.AllSigned)
	require.Len(t, st.Documents, 3)
	assert.True(t, st.Documents[models.DocW9].Signed)
	require.NotNil(t, st.Documents[models.DocW9].SignedAt)
	assert.False(t, st.Documents[models.DocPartnerAgreement].Signed)
	assert.Nil(t, st.Documents[models.DocPartnerAgreement].SignedAt)

	_, err = newTestPartnerService(db, nil, ownerOnly{user: 99}, nil).Status(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPartnerNotFound)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrPartnerNotFound)
}

func TestActivate(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 0)
	crm := &fakeCRM{}
	svc := newTestPartnerService(db, crm, nil, nil)

	_, err := svc.Activate(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrDocumentsIncomplete)
	assert.Equal(t, models.PartnerPending, reload(t, db, p.ID).Status)
	assert.Empty(t, crm.activated)

	require.NoError(t, db.Model(&models.Partner{}).Where("id = ?", p.ID).
		Update("documents_status", models.DocumentsCompleted).Error)
	got, err := svc.Activate(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartnerActive, got.Status)
	assert.Equal(t, []string{"contact-9"}, crm.activated)

	stored := reload(t, db, p.ID)
	assert.Equal(t, models.PartnerActive, stored.Status)
	require.NotNil(t, stored.ApprovedAt)
	assert.True(t, stored.ApprovedAt.Equal(testNow))

	_, err = svc.Activate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPartnerNotFound)

	_, err = newTestPartnerService(nil, nil, nil, nil).Activate(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrDatabaseNotConfigured)
}

// A signature applied with an outdated copy of the partner still sees the
// flags other writers committed in the meantime.
func TestSignatureCompletesFromStoredFlags(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db, 0)
	stale := *p
	require.NoError(t, db.Model(&models.Partner{}).Where("id = ?", p.ID).
		Updates(map[string]any{"agreement_signed": true, "w9_signed": true, "documents_status": models.DocumentsPending}).Error)

	crm := &fakeCRM{}
	svc := newTestPartnerService(db, crm, nil, nil)
	err := svc.applyDocumentEvent(context.Background(), &stale, ghl.EventDocumentSigned,
		&ghl.DocumentEvent{ContactID: "contact-9", DocumentType: models.DocDirectDeposit})
	require.NoError(t, err)

	stored := reload(t, db, p.ID)
	assert.True(t, stored.AllDocumentsSigned())
	assert.Equal(t, models.DocumentsCompleted, stored.DocumentsStatus)
	assert.Equal(t, models.PartnerUnderReview, stored.Status)
	assert.Equal(t, []string{"contact-9"}, crm.completed)
}
