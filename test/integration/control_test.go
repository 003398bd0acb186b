//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/daemon"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
	"github.com/eliteGoblin/focusd/app_limit/test/fixtures"
)

var _ = Describe("Engine behind the control API", func() {
	var (
		ctx    context.Context
		host   *fixtures.Host
		engine *daemon.Engine
		client *control.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir, err := os.MkdirTemp("", "applimit-control-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmpDir)

		store := openStore(tmpDir, config.StoreJSON)
		DeferCleanup(store.Close)
		Expect(store.SaveAll([]domain.AppPolicy{
			{PackageID: bank, DisplayName: "Bank", Mode: domain.ModePasswordProtected, Password: "1234"},
			{PackageID: youtube, Mode: domain.ModeLaunchLimit, MaxOpens: 3},
		})).To(Succeed())

		host = fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())

		engine = daemon.NewEngine(daemon.EngineConfig{
			TickInterval:         10 * time.Millisecond,
			HeartbeatInterval:    time.Hour,
			PartnerCheckInterval: time.Hour,
			PlistCheckInterval:   time.Hour,
		}, host.Evaluator, nil, nil, nil, domain.Daemon{PID: os.Getpid(), Role: domain.RoleEngine}, zap.NewNop())
		Expect(engine.Start(ctx)).To(Succeed())
		DeferCleanup(func() { _ = engine.Stop() })

		srv := control.NewServer("", control.Deps{
			Engine:    engine,
			Evaluator: host.Evaluator,
			Feed:      host.Feed,
			Store:     store,
		}, zap.NewNop())
		ts := httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)
		client = control.NewClient(ts.URL)

		Eventually(engine.Ticks).Should(BeNumerically(">", 0))
	})

	activeIntervention := func() *control.Intervention {
		iv, err := client.Intervention(ctx)
		Expect(err).NotTo(HaveOccurred())
		return iv
	}

	It("drives a password intervention end to end", func() {
		Expect(client.ReportForeground(ctx, bank, host.Clock.Now())).To(Succeed())

		Eventually(activeIntervention).ShouldNot(BeNil())
		iv := activeIntervention()
		Expect(iv.PackageID).To(Equal(bank))
		Expect(iv.RequiresPassword).To(BeTrue())
		Expect(iv.Message).To(ContainSubstring("Bank"))

		Expect(client.Dismiss(ctx)).To(MatchError(domain.ErrDismissNotAllowed))

		ok, err := client.SubmitPassword(ctx, "0000")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(activeIntervention()).NotTo(BeNil())

		ok, err = client.SubmitPassword(ctx, "1234")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Consistently(activeIntervention, 100*time.Millisecond, 10*time.Millisecond).Should(BeNil())

		st, err := client.Status(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Running).To(BeTrue())
		Expect(st.Foreground).To(Equal(bank))
		Expect(st.Policies).To(HaveLen(2))
	})

	It("redirects to management on forgot password", func() {
		Expect(client.ReportForeground(ctx, bank, host.Clock.Now())).To(Succeed())
		Eventually(activeIntervention).ShouldNot(BeNil())

		Expect(client.ForgotPassword(ctx)).To(Succeed())
		Expect(host.Redirects.Packages()).To(ContainElement(bank))
	})

	It("resets counters only while the engine runs", func() {
		host.Clock.Advance(time.Second)
		Expect(client.ReportForeground(ctx, youtube, host.Clock.Now())).To(Succeed())
		Eventually(func() int {
			p, _ := host.Policy(youtube)
			return p.CurrentOpens
		}).Should(Equal(1))

		Expect(client.ResetCounters(ctx, youtube)).To(Succeed())
		p, _ := host.Policy(youtube)
		Expect(p.CurrentOpens).To(BeZero())

		Expect(client.ResetCounters(ctx, "com.unknown")).To(MatchError(domain.ErrPolicyNotFound))

		Expect(engine.Stop()).To(Succeed())
		Expect(client.ResetCounters(ctx, youtube)).To(MatchError(domain.ErrEngineNotRunning))
	})
})
