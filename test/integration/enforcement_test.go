//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
	"github.com/eliteGoblin/focusd/app_limit/test/fixtures"
)

const (
	instagram = "com.instagram.android"
	youtube   = "com.google.android.youtube"
	bank      = "com.bank.app"
	launcher  = "com.android.launcher3"
	other     = "com.other.app"
)

func openStore(dir, backend string) domain.PolicyStore {
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Store.Backend = backend
	store, err := infra.OpenPolicyStore(cfg, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())
	return store
}

var _ = Describe("Enforcement", func() {
	var (
		ctx    context.Context
		tmpDir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "applimit-integration-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	DescribeTable("time limit on every store backend",
		func(backend string) {
			store := openStore(tmpDir, backend)
			defer store.Close()
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: instagram, DisplayName: "Instagram", Mode: domain.ModeTimeLimit, TimeLimitSeconds: 5},
			})).To(Succeed())

			host := fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())

			host.Open(instagram)
			Expect(host.Tick(ctx).Presented).To(BeNil())

			presented := host.Run(ctx, 5*time.Second)
			Expect(presented).To(HaveLen(1))
			Expect(presented[0].PackageID).To(Equal(instagram))
			Expect(presented[0].Message).To(ContainSubstring("Instagram"))

			By("recurring after a dismiss while the app stays in front")
			Expect(host.Evaluator.Dismiss()).To(Succeed())
			Expect(host.Run(ctx, 5*time.Second)).To(HaveLen(1))
		},
		Entry("json", config.StoreJSON),
		Entry("bolt", config.StoreBolt),
		Entry("sqlite", config.StoreSQLite),
	)

	DescribeTable("one launch at sub-millisecond time is counted once on every store backend",
		func(backend string) {
			store := openStore(tmpDir, backend)
			defer store.Close()
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: youtube, Mode: domain.ModeLaunchLimit, MaxOpens: 10},
			})).To(Succeed())

			host := fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())

			host.Clock.Advance(time.Second + 123456789*time.Nanosecond)
			host.Open(youtube)
			host.Run(ctx, 5*time.Second)

			p, ok := host.Policy(youtube)
			Expect(ok).To(BeTrue())
			Expect(p.CurrentOpens).To(Equal(1))
		},
		Entry("json", config.StoreJSON),
		Entry("bolt", config.StoreBolt),
		Entry("sqlite", config.StoreSQLite),
	)

	Describe("launch limit", func() {
		var host *fixtures.Host

		BeforeEach(func() {
			store := openStore(tmpDir, config.StoreJSON)
			DeferCleanup(store.Close)
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: youtube, DisplayName: "YouTube", Mode: domain.ModeLaunchLimit, MaxOpens: 3},
			})).To(Succeed())

			host = fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())
		})

		launch := func() domain.TickResult {
			host.Clock.Advance(time.Second)
			host.Open(youtube)
			res := host.Tick(ctx)
			host.Clock.Advance(time.Second)
			host.Open(launcher)
			host.Tick(ctx)
			return res
		}

		It("survives an engine restart without recounting launches", func() {
			Expect(launch().Presented).To(BeNil())
			Expect(launch().Presented).To(BeNil())

			p, ok := host.Policy(youtube)
			Expect(ok).To(BeTrue())
			Expect(p.CurrentOpens).To(Equal(2))

			host.Restart()
			host.Clock.Advance(time.Second)
			Expect(host.Tick(ctx).LaunchesCounted).To(BeZero())
			p, _ = host.Policy(youtube)
			Expect(p.CurrentOpens).To(Equal(2))

			res := launch()
			Expect(res.Presented).NotTo(BeNil())
			Expect(res.Presented.Mode).To(Equal(domain.ModeLaunchLimit))
			p, _ = host.Policy(youtube)
			Expect(p.CurrentOpens).To(Equal(3))
		})

		It("does not count the app in front when the engine restarts", func() {
			host.Clock.Advance(time.Second)
			host.Open(youtube)
			host.Tick(ctx)
			p, _ := host.Policy(youtube)
			Expect(p.CurrentOpens).To(Equal(1))

			host.Restart()
			host.Run(ctx, 3*time.Second)
			p, _ = host.Policy(youtube)
			Expect(p.CurrentOpens).To(Equal(1))
		})

		It("zeroes counters after the reset period", func() {
			launch()
			launch()

			host.Clock.Advance(23 * time.Hour)
			host.Tick(ctx)
			p, _ := host.Policy(youtube)
			Expect(p.CurrentOpens).To(Equal(2))

			host.Clock.Advance(time.Hour)
			host.Tick(ctx)
			p, _ = host.Policy(youtube)
			Expect(p.CurrentOpens).To(BeZero())

			last, err := host.Store.LastResetTime()
			Expect(err).NotTo(HaveOccurred())
			Expect(last).To(BeTemporally("==", host.Clock.Now()))
		})
	})

	Describe("polled foreground", func() {
		It("ignores engine restarts and unreadable samples", func() {
			store := openStore(tmpDir, config.StoreJSON)
			defer store.Close()
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: youtube, Mode: domain.ModeLaunchLimit, MaxOpens: 10},
			})).To(Succeed())

			host := fixtures.NewPolledHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())
			opens := func() int {
				p, _ := host.Policy(youtube)
				return p.CurrentOpens
			}

			host.Clock.Advance(500 * time.Microsecond)
			host.Open(youtube)
			host.Run(ctx, 3*time.Second)
			Expect(opens()).To(Equal(1))

			By("respawning the engine while the app stays in front")
			host.Restart()
			host.Run(ctx, 3*time.Second)
			Expect(opens()).To(Equal(1))

			By("failing one sample mid-session")
			host.Sampler.Unknown()
			host.Run(ctx, time.Second)
			host.Sampler.Show(youtube)
			host.Run(ctx, 3*time.Second)
			Expect(opens()).To(Equal(1))

			By("leaving and coming back")
			host.Open(launcher)
			host.Run(ctx, time.Second)
			host.Open(youtube)
			host.Run(ctx, time.Second)
			Expect(opens()).To(Equal(2))
		})
	})

	Describe("password protection", func() {
		It("locks on entry and stays unlocked until the app is left", func() {
			hash, err := usecase.HashPassword("1234")
			Expect(err).NotTo(HaveOccurred())

			store := openStore(tmpDir, config.StoreBolt)
			defer store.Close()
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: bank, Mode: domain.ModePasswordProtected, Password: hash},
			})).To(Succeed())

			host := fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())

			host.Open(bank)
			res := host.Tick(ctx)
			Expect(res.Presented).NotTo(BeNil())
			Expect(res.Presented.RequiresPassword).To(BeTrue())
			Expect(host.Evaluator.Dismiss()).To(MatchError(domain.ErrDismissNotAllowed))

			ok, err := host.Evaluator.SubmitPassword("0000")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			ok, err = host.Evaluator.SubmitPassword("1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(host.Run(ctx, 3*time.Second)).To(BeEmpty())

			By("leaving to the launcher and coming back")
			host.Open(launcher)
			host.Run(ctx, time.Second)
			host.Open(bank)
			presented := host.Run(ctx, time.Second)
			Expect(presented).To(HaveLen(1))

			Expect(host.Evaluator.ForgotPassword()).To(Succeed())
			Expect(host.Redirects.Packages()).To(Equal([]string{bank}))
			Expect(host.Evaluator.Active()).To(BeNil())
		})
	})

	Describe("constant overlay", func() {
		It("restarts its timer after a visit to the launcher", func() {
			store := openStore(tmpDir, config.StoreSQLite)
			defer store.Close()
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: instagram, Mode: domain.ModeConstantOverlay, TimeLimitSeconds: 5},
			})).To(Succeed())

			host := fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())

			host.Open(instagram)
			host.Tick(ctx)
			Expect(host.Run(ctx, 3*time.Second)).To(BeEmpty())

			host.Open(launcher)
			host.Run(ctx, time.Second)
			host.Open(other)
			host.Run(ctx, time.Second)
			host.Open(instagram)
			host.Tick(ctx)

			Expect(host.Run(ctx, 4*time.Second)).To(BeEmpty())
			Expect(host.Run(ctx, time.Second)).To(HaveLen(1))
		})
	})

	Describe("external policy edits", func() {
		It("drops the intervention of a removed policy", func() {
			store := openStore(tmpDir, config.StoreJSON)
			defer store.Close()
			Expect(store.SaveAll([]domain.AppPolicy{
				{PackageID: bank, Mode: domain.ModePasswordProtected, Password: "1234"},
				{PackageID: youtube, Mode: domain.ModeLaunchLimit, MaxOpens: 3},
			})).To(Succeed())

			host := fixtures.NewHost(store, usecase.DefaultEvaluatorConfig())
			Expect(host.Boot(ctx)).To(Succeed())
			host.Open(bank)
			Expect(host.Tick(ctx).Presented).NotTo(BeNil())

			watchCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			watcher := infra.NewStoreWatcher(filepath.Join(tmpDir, "policies.json"), func() {
				_ = host.Evaluator.PoliciesChanged()
			}, zap.NewNop())
			go func() {
				defer GinkgoRecover()
				_ = watcher.Run(watchCtx)
			}()

			remaining := []domain.AppPolicy{{PackageID: youtube, Mode: domain.ModeLaunchLimit, MaxOpens: 3}}
			// Rewrite until the watcher is up and has seen a save.
			Eventually(func() *domain.Intervention {
				Expect(store.SaveAll(remaining)).To(Succeed())
				return host.Evaluator.Active()
			}, 5*time.Second, 100*time.Millisecond).Should(BeNil())
			Expect(host.Presenter.Current()).To(BeNil())
		})
	})
})
