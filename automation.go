package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"offerbot/internal/logging"
	"offerbot/internal/offer"
)

// CodeSource hands out the two-factor code sent by the portal.
type CodeSource interface {
	Code(ctx context.Context) (string, error)
}

var (
	errLoginIncomplete = errors.New("login did not reach the portal")
	errNoPage          = errors.New("browser page not open")
)

type Automation struct {
	config   *Config
	log      *logging.Logger
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	stopChan chan bool
}

func NewAutomation(config *Config, log *logging.Logger) *Automation {
	return &Automation{
		config:   config,
		log:      log,
		stopChan: make(chan bool, 1),
	}
}

func (a *Automation) Close() {
	select {
	case a.stopChan <- true:
	default:
	}

	if a.browser == nil && a.launcher == nil {
		return
	}

	fmt.Println(T("cleaning_up"))

	if a.page != nil {
		a.page.Close()
	}

	if a.browser != nil {
		a.browser.Close()
	}

	if a.launcher != nil {
		a.launcher.Cleanup()
	}

	fmt.Println(T("browser_destroyed"))
}

func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}

	_, err := a.browser.Version()
	if err != nil {
		a.log.Debugf("Browser version check failed: %v", err)
		return false
	}

	if a.page != nil {
		_, err := a.page.Info()
		if err != nil {
			a.log.Debugf("Page info check failed: %v", err)
			return false
		}
	}

	return true
}

// watchBrowser cancels the run when the user closes the browser window.
func (a *Automation) watchBrowser(cancel context.CancelFunc) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			if !a.isBrowserAlive() {
				fmt.Println(T("browser_closed_by_user"))
				a.log.Warnf("Browser closed, stopping")
				cancel()
				return
			}
		}
	}
}

func (a *Automation) setupBrowser(cancel context.CancelFunc) error {
	fmt.Println(T("browser_launching"))

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	chromePath, chromeExists := launcher.LookPath()

	a.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	// must be set before Bin()
	if a.config.BrowserProfilePath != "" {
		a.launcher = a.launcher.UserDataDir(a.config.BrowserProfilePath)
		a.log.Debugf("%s", T("browser_profile_path_set", a.config.BrowserProfilePath))
	}

	if chromeExists {
		a.launcher = a.launcher.Bin(chromePath)
		fmt.Println(T("browser_using_system_chrome"))
		a.log.Debugf("%s", T("browser_chrome_path_set", chromePath))
	} else {
		fmt.Println(T("browser_chrome_not_found"))
	}

	if runtime.GOOS == "windows" {
		fmt.Println(T("windows_leakless_disabled"))
	}

	url, err := a.launcher.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Opening in existing browser session") ||
			strings.Contains(errMsg, "ProcessSingleton") ||
			strings.Contains(errMsg, "SingletonLock") {
			fmt.Println(T("error_chrome_already_running_header"))
			fmt.Println(T("error_chrome_close_all"))
			fmt.Println(T("error_chrome_try_again"))
			return errors.New(T("error_chrome_already_running"))
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	a.browser = browser

	// a.page is set before the watcher starts and never reassigned
	page, err := stealth.Page(browser)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}
	a.page = page
	a.log.Debugf("Stealth page created")

	if a.config.ViewportWidth > 0 && a.config.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  a.config.ViewportWidth,
			Height: a.config.ViewportHeight,
		})
		if err != nil {
			a.log.Debugf("Warning: failed to set viewport: %v", err)
		}
	}

	go a.watchBrowser(cancel)
	a.log.Debugf("Browser watcher started")

	fmt.Println(T("browser_launched"))
	return nil
}

// openPortal loads the portal in the page opened by setupBrowser, retrying
// network and load failures a few times.
func (a *Automation) openPortal(ctx context.Context) error {
	if a.page == nil {
		return errNoPage
	}
	fmt.Printf(T("opening_portal")+"\n", a.config.PortalURL)

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		p := a.page.Context(ctx).Timeout(time.Duration(a.config.PageLoadTimeout) * time.Second)
		if err := p.Navigate(a.config.PortalURL); err != nil {
			a.log.Warnf("Attempt %d: navigation error: %v", attempt, err)
			return struct{}{}, err
		}
		if err := p.WaitLoad(); err != nil {
			a.log.Warnf("Attempt %d: page load error: %v", attempt, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.config.PortalURL, err)
	}

	a.log.Infof("Portal loaded after %d attempt(s)", attempt)
	return nil
}

// login walks the Azure sign-in. An existing session stored in the browser
// profile short-circuits it, otherwise the e-mail and the two-factor code
// are entered.
func (a *Automation) login(ctx context.Context, codes CodeSource) error {
	sel := a.config.Selectors
	check := time.Duration(a.config.LoginCheckDelay) * time.Second

	fmt.Println(T("login_starting"))
	if err := a.clickText(ctx, sel.AzureLoginText); err != nil {
		return fmt.Errorf("azure login button: %w", err)
	}

	if a.waitForURL(ctx, sel.LoginCallbackURL, check) {
		fmt.Println(T("login_already_authenticated"))
		a.log.Infof("Existing session reused")
		return nil
	}

	tile := fmt.Sprintf(sel.AccountTile, a.config.LoginEmail)
	if el, err := a.page.Context(ctx).Timeout(check).Element(tile); err == nil {
		a.log.Infof("Using remembered account %s", a.config.LoginEmail)
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("account tile: %w", err)
		}
	} else {
		fmt.Printf(T("login_entering_email")+"\n", a.config.LoginEmail)
		if err := a.fill(ctx, sel.EmailInput, a.config.LoginEmail); err != nil {
			return fmt.Errorf("e-mail field: %w", err)
		}
		if err := a.click(ctx, sel.SubmitButton); err != nil {
			return fmt.Errorf("next button: %w", err)
		}
	}

	if a.waitForURL(ctx, sel.LoginCallbackURL, check) {
		fmt.Println(T("login_done"))
		return nil
	}

	fmt.Println(T("login_waiting_code"))
	code, err := codes.Code(ctx)
	if err != nil {
		return fmt.Errorf("two-factor code: %w", err)
	}
	fmt.Println(T("login_code_received"))
	a.log.Debugf("2FA code received (%d digits)", len(code))

	if err := a.fill(ctx, sel.CodeInput, code); err != nil {
		return fmt.Errorf("code field: %w", err)
	}
	if err := a.click(ctx, sel.SubmitButton); err != nil {
		return fmt.Errorf("sign in button: %w", err)
	}

	if !a.waitForURL(ctx, sel.LoginCallbackURL, time.Duration(a.config.PageLoadTimeout)*time.Second) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errLoginIncomplete
	}

	fmt.Println(T("login_done"))
	a.log.Infof("Logged in as %s", a.config.LoginEmail)
	return nil
}

// openOffers goes from the landing page to the filtered offer list.
func (a *Automation) openOffers(ctx context.Context) error {
	sel := a.config.Selectors

	a.dismissPopup(ctx)

	fmt.Println(T("offers_opening"))
	if err := a.clickText(ctx, sel.OffersMenuText); err != nil {
		return fmt.Errorf("offers menu: %w", err)
	}

	fmt.Printf(T("offers_filtering")+"\n", a.config.Origin)
	if err := a.clickText(ctx, sel.OriginsText); err != nil {
		return fmt.Errorf("origins filter: %w", err)
	}
	if err := a.clickText(ctx, a.config.Origin); err != nil {
		return fmt.Errorf("origin %q: %w", a.config.Origin, err)
	}
	if err := a.clickText(ctx, sel.FilterText); err != nil {
		return fmt.Errorf("filter button: %w", err)
	}

	a.waitSettled(ctx)
	fmt.Println(T("offers_ready"))
	return nil
}

func (a *Automation) dismissPopup(ctx context.Context) {
	el, err := a.page.Context(ctx).Timeout(3 * time.Second).Element(a.config.Selectors.PopupClose)
	if err != nil {
		a.log.Debugf("No pop-up to dismiss")
		return
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		a.log.Debugf("Pop-up close failed: %v", err)
		return
	}
	a.log.Infof("Pop-up dismissed")
}

// waitForURL reports whether the page URL contains fragment within d.
func (a *Automation) waitForURL(ctx context.Context, fragment string, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if info, err := a.page.Info(); err == nil && strings.Contains(info.URL, fragment) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// waitSettled gives the offer list time to re-render after a filter.
func (a *Automation) waitSettled(ctx context.Context) {
	p := a.page.Context(ctx).Timeout(a.config.elementTimeout())
	if err := p.WaitDOMStable(500*time.Millisecond, 0); err != nil {
		a.log.Debugf("Page did not settle: %v", err)
	}
}

func (a *Automation) click(ctx context.Context, selector string) error {
	el, err := a.page.Context(ctx).Timeout(a.config.elementTimeout()).Element(selector)
	if err != nil {
		return uiError(selector, err)
	}
	return uiError(selector, el.Click(proto.InputMouseButtonLeft, 1))
}

// clickText clicks the first clickable element whose whole visible text is
// text, ignoring case.
func (a *Automation) clickText(ctx context.Context, text string) error {
	p := a.page.Context(ctx).Timeout(a.config.elementTimeout())
	el, err := p.ElementR(a.config.Selectors.Clickable, textPattern(text))
	if err != nil {
		return uiError(text, err)
	}
	return uiError(text, el.Click(proto.InputMouseButtonLeft, 1))
}

func (a *Automation) fill(ctx context.Context, selector, value string) error {
	el, err := a.page.Context(ctx).Timeout(a.config.elementTimeout()).Element(selector)
	if err != nil {
		return uiError(selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		a.log.Debugf("Select text in %s: %v", selector, err)
	}
	return uiError(selector, el.Input(value))
}

// textPattern builds the rod text regex for an exact, case-insensitive label.
func textPattern(text string) string {
	return `/^\s*` + regexp.QuoteMeta(strings.TrimSpace(text)) + `\s*$/i`
}

// uiError marks waits that ran out of time so the scanner can count them.
func uiError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, offer.ErrUITimeout)
	}
	return fmt.Errorf("%s: %w", what, err)
}
