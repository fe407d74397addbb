package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"wms/internal/settings"
	settingsmocks "wms/internal/settings/mocks"
	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/audit/mocks"
	"wms/pkg/platform/audit/store/memory"
)

type RetentionSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	logs    *bytes.Buffer
	logger  *slog.Logger
	metrics *Metrics
	now     time.Time
}

func TestRetentionSuite(t *testing.T) {
	suite.Run(t, new(RetentionSuite))
}

func (s *RetentionSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.logs = &bytes.Buffer{}
	s.logger = slog.New(slog.NewTextHandler(s.logs, nil))
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.now = time.Date(2026, 6, 30, 3, 0, 0, 0, time.UTC)
}

func (s *RetentionSuite) job(source settings.Source) *RetentionJob {
	return NewRetentionJob(s.store, source,
		WithRetentionLogger(s.logger),
		WithRetentionMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *RetentionSuite) TestConfiguredWindow() {
	s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -30)).Return(int64(12), nil)

	err := s.job(settings.NewMemorySource(map[string]string{settings.RetentionDaysKey: "30"})).Run(context.Background())

	s.Require().NoError(err)
	s.NotContains(s.logs.String(), "level=WARN")
	s.Contains(s.logs.String(), "deleted=12")
	s.Equal(float64(12), testutil.ToFloat64(s.metrics.PurgedTotal))
	s.Equal(float64(30), testutil.ToFloat64(s.metrics.RetentionDays))
}

func (s *RetentionSuite) TestAbsentSettingUsesNinetyDays() {
	s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -90)).Return(int64(0), nil)

	err := s.job(settings.NewMemorySource(nil)).Run(context.Background())

	s.Require().NoError(err)
	s.Contains(s.logs.String(), "retention setting not configured, using default")
	s.Contains(s.logs.String(), "default_days=90")
}

func (s *RetentionSuite) TestNonNumericSettingWarnsAndUsesNinetyDays() {
	s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -90)).Return(int64(3), nil)

	err := s.job(settings.NewMemorySource(map[string]string{settings.RetentionDaysKey: "not-a-number"})).Run(context.Background())

	s.Require().NoError(err)
	s.Contains(s.logs.String(), "level=WARN")
	s.Contains(s.logs.String(), "invalid retention setting, using default")
	s.Contains(s.logs.String(), "value=not-a-number")
}

func (s *RetentionSuite) TestNonPositiveSettingUsesDefault() {
	for _, raw := range []string{"0", "-5", ""} {
		s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -90)).Return(int64(0), nil)
		s.Require().NoError(s.job(settings.NewMemorySource(map[string]string{settings.RetentionDaysKey: raw})).Run(context.Background()))
	}
}

func (s *RetentionSuite) TestUnreadableSettingUsesDefault() {
	source := settingsmocks.NewMockSource(s.ctrl)
	source.EXPECT().Get(gomock.Any(), settings.RetentionDaysKey).Return("", false, errors.New("db down"))
	s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -90)).Return(int64(0), nil)

	s.Require().NoError(s.job(source).Run(context.Background()))
	s.Contains(s.logs.String(), "could not read retention setting")
}

func (s *RetentionSuite) TestSettingIsReadOncePerRun() {
	source := settingsmocks.NewMockSource(s.ctrl)
	gomock.InOrder(
		source.EXPECT().Get(gomock.Any(), settings.RetentionDaysKey).Return("10", true, nil),
		source.EXPECT().Get(gomock.Any(), settings.RetentionDaysKey).Return("20", true, nil),
	)
	gomock.InOrder(
		s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -10)).Return(int64(0), nil),
		s.store.EXPECT().DeleteOlderThan(gomock.Any(), s.now.AddDate(0, 0, -20)).Return(int64(0), nil),
	)

	job := s.job(source)
	s.Require().NoError(job.Run(context.Background()))
	s.Require().NoError(job.Run(context.Background()))
}

func (s *RetentionSuite) TestStoreFailureIsReturned() {
	s.store.EXPECT().DeleteOlderThan(gomock.Any(), gomock.Any()).Return(int64(4), errors.New("lock timeout"))

	err := s.job(settings.NewMemorySource(nil)).Run(context.Background())

	s.Require().Error(err)
	s.Contains(err.Error(), "lock timeout")
	s.Contains(s.logs.String(), "audit retention failed")
	s.Equal(float64(4), testutil.ToFloat64(s.metrics.PurgedTotal))
}

func (s *RetentionSuite) TestIdempotentAgainstMemoryStore() {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	for _, at := range []time.Time{s.now.AddDate(0, 0, -120), s.now.AddDate(0, 0, -91), s.now.AddDate(0, 0, -90), s.now} {
		_, err := store.Save(ctx, &audit.Entry{
			EntityName: "Produto", EntityID: "42", Action: audit.ActionUpdate,
			Actor: audit.ActorSystem, OccurredAt: at, After: json.RawMessage(`{}`),
		})
		s.Require().NoError(err)
	}

	job := NewRetentionJob(store, settings.NewMemorySource(nil), WithRetentionLogger(s.logger))
	s.Require().NoError(job.RunAt(ctx, s.now))
	s.Len(store.All(), 2, "entries at or after the cutoff are kept")

	s.Require().NoError(job.RunAt(ctx, s.now))
	s.Len(store.All(), 2)
	s.Contains(s.logs.String(), "deleted=0")
}
