package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"offerbot/internal/mailcode"
	"offerbot/internal/offer"
)

type Config struct {
	PortalURL  string `yaml:"portal_url"`
	LoginEmail string `yaml:"login_email"`
	Origin     string `yaml:"origin"`

	BrowserProfilePath string `yaml:"browser_profile_path"`

	PageLoadTimeout int `yaml:"page_load_timeout"` // seconds
	ElementTimeout  int `yaml:"element_timeout"`   // seconds, every single UI wait
	LoginCheckDelay int `yaml:"login_check_delay"` // seconds to wait for an existing session

	PollIntervalMs  int  `yaml:"poll_interval_ms"`
	MaxEmptyPolls   int  `yaml:"max_empty_polls"`
	MaxUITimeouts   int  `yaml:"max_ui_timeouts"`
	SettleDelayMs   int  `yaml:"settle_delay_ms"`
	SkipOnNoOptions bool `yaml:"skip_on_no_options"`

	Database string `yaml:"database"`
	Timezone string `yaml:"timezone"`
	SyncClock bool  `yaml:"sync_clock"`

	ListenAddr string `yaml:"listen_addr"`
	LogFile    string `yaml:"log_file"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	Headless  bool `yaml:"headless"`
	DebugMode bool `yaml:"debug_mode"`

	Mail      MailConfig     `yaml:"mail"`
	Selectors SelectorConfig `yaml:"selectors"`
}

type MailConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password,omitempty"`
	TLS            bool   `yaml:"tls"`
	Folder         string `yaml:"folder"`
	Subject        string `yaml:"subject"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PollSeconds    int    `yaml:"poll_seconds"`
}

// SelectorConfig holds CSS selectors and the visible texts the portal is
// navigated by. Texts are matched case-insensitively against whole labels.
type SelectorConfig struct {
	AzureLoginText   string `yaml:"azure_login_text"`
	LoginCallbackURL string `yaml:"login_callback_url"`
	AccountTile      string `yaml:"account_tile"` // %s is the login e-mail
	EmailInput       string `yaml:"email_input"`
	CodeInput        string `yaml:"code_input"`
	SubmitButton     string `yaml:"submit_button"`

	PopupClose     string `yaml:"popup_close"`
	OffersMenuText string `yaml:"offers_menu_text"`
	OriginsText    string `yaml:"origins_text"`
	FilterText     string `yaml:"filter_text"`

	DateInput   string `yaml:"date_input"`
	DayHeading  string `yaml:"day_heading"`
	Clickable   string `yaml:"clickable"`
	AcceptText  string `yaml:"accept_text"`
	ConfirmText string `yaml:"confirm_text"`
	FinalText   string `yaml:"final_text"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		PortalURL:          "https://weblogistica.ternium.com/login",
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		PageLoadTimeout:    30,
		ElementTimeout:     10,
		LoginCheckDelay:    5,
		PollIntervalMs:     1000,
		MaxEmptyPolls:      10,
		MaxUITimeouts:      3,
		SettleDelayMs:      1000,
		Database:           filepath.Join(userDataDir, "offers.db"),
		Timezone:           "America/Mexico_City",
		ListenAddr:         "127.0.0.1:8088",
		LogFile:            filepath.Join(userDataDir, "offerbot.log"),
		ViewportWidth:      1920,
		ViewportHeight:     1080,
		Mail: MailConfig{
			Port:           143,
			Folder:         "INBOX",
			Subject:        mailcode.DefaultSubject,
			TimeoutSeconds: 120,
			PollSeconds:    3,
		},
		Selectors: SelectorConfig{
			AzureLoginText:   "Ingresar con Azure",
			LoginCallbackURL: "login-callback",
			AccountTile:      `[data-test-id="%s"]`,
			EmailInput:       "input[type='email'], input[name='loginfmt']",
			CodeInput:        "input[name='otc'], input[autocomplete='one-time-code'], input[placeholder*='code']",
			SubmitButton:     "input[type='submit'], button[type='submit']",
			PopupClose:       ".w-3 > .fill-current",
			OffersMenuText:   "Principal Ofertas de Viajes",
			OriginsText:      "Origenes",
			FilterText:       "Filtrar",
			DateInput:        ".inputdate-class-position",
			DayHeading:       "h1, h2, h3, h4, h5, h6, [role='heading']",
			Clickable:        "button, a, [role='button'], [role='listitem'], span, div",
			AcceptText:       "Aceptar",
			ConfirmText:      "Confirmar",
			FinalText:        "ACEPTAR",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overrides file values with the environment. Secrets are meant to
// live here (or in .env) rather than in the YAML file.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("EMAIL_HOST"); v != "" {
		c.Mail.Host = v
	}
	if v := os.Getenv("EMAIL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EMAIL_PORT: %w", err)
		}
		c.Mail.Port = port
	}
	if v := os.Getenv("EMAIL_USER"); v != "" {
		c.Mail.Username = v
		if c.LoginEmail == "" {
			c.LoginEmail = v
		}
	}
	if v := os.Getenv("EMAIL_PASS"); v != "" {
		c.Mail.Password = v
	}
	if v := os.Getenv("OFFERBOT_LOGIN_EMAIL"); v != "" {
		c.LoginEmail = v
	}
	if v := os.Getenv("OFFERBOT_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("OFFERBOT_ORIGIN"); v != "" {
		c.Origin = v
	}
	return nil
}

// Validate checks the settings the scan cannot run without. Mail settings
// are checked separately since only login needs them.
func (c *Config) Validate() error {
	var errs []error
	if c.PortalURL == "" {
		errs = append(errs, errors.New("portal_url is empty"))
	}
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is empty (set it in the config file or OFFERBOT_ORIGIN)"))
	}
	if c.LoginEmail == "" {
		errs = append(errs, errors.New("login_email is empty (set it in the config file, OFFERBOT_LOGIN_EMAIL or EMAIL_USER)"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is empty"))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs))
	}
	if c.MaxEmptyPolls <= 0 {
		errs = append(errs, fmt.Errorf("max_empty_polls must be positive, got %d", c.MaxEmptyPolls))
	}
	if c.MaxUITimeouts <= 0 {
		errs = append(errs, fmt.Errorf("max_ui_timeouts must be positive, got %d", c.MaxUITimeouts))
	}
	if c.ElementTimeout <= 0 {
		errs = append(errs, fmt.Errorf("element_timeout must be positive, got %d", c.ElementTimeout))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) ValidateMail() error {
	var errs []error
	if c.Mail.Host == "" {
		errs = append(errs, errors.New("mail host is empty (EMAIL_HOST)"))
	}
	if c.Mail.Username == "" {
		errs = append(errs, errors.New("mail username is empty (EMAIL_USER)"))
	}
	if c.Mail.Password == "" {
		errs = append(errs, errors.New("mail password is empty (EMAIL_PASS)"))
	}
	return errors.Join(errs...)
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) Policy() offer.Policy {
	return offer.Policy{
		PollInterval:    time.Duration(c.PollIntervalMs) * time.Millisecond,
		MaxEmptyPolls:   c.MaxEmptyPolls,
		MaxUITimeouts:   c.MaxUITimeouts,
		SettleDelay:     time.Duration(c.SettleDelayMs) * time.Millisecond,
		SkipOnNoOptions: c.SkipOnNoOptions,
	}
}

func (c *Config) IMAP() mailcode.IMAPConfig {
	return mailcode.IMAPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		TLS:      c.Mail.TLS,
		Folder:   c.Mail.Folder,
	}
}

func (c *Config) MailOptions() mailcode.Options {
	return mailcode.Options{
		Subject:  c.Mail.Subject,
		Timeout:  time.Duration(c.Mail.TimeoutSeconds) * time.Second,
		Interval: time.Duration(c.Mail.PollSeconds) * time.Second,
	}
}

func (c *Config) elementTimeout() time.Duration {
	return time.Duration(c.ElementTimeout) * time.Second
}
