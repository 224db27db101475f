package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"empctl/internal/api"
	"empctl/internal/auth"
	"empctl/internal/config"
	"empctl/internal/emp"
	"empctl/internal/encryption"
	"empctl/internal/form"
	"empctl/internal/model"
	"empctl/internal/persist"
	"empctl/internal/state"
	"empctl/internal/storage"
	"empctl/internal/transform"
)

// ErrNotLoggedIn is returned by operations that need a session.
var ErrNotLoggedIn = errors.New("not logged in: run `empctl login` first")

// Options adjusts how NewEmpApp builds its dependencies.
type Options struct {
	// Command names the CLI command being run.
	Command string
	// Passphrase unlocks secure storage. When nil the storage stays locked:
	// the session is neither restored nor saved.
	Passphrase PassphraseFunc
	// Logger replaces the file logger.
	Logger     emp.Logger
	Clock      emp.Clock
	IDs        emp.IDGenerator
	HTTPClient *http.Client
}

// EmpApp is the application layer between the CLI and the client core.
// It constructs all dependencies from config, restores persisted state,
// exposes the high-level operations, and flushes state on Close.
type EmpApp struct {
	cfg         *config.Config
	general     emp.Storage
	secure      *storage.SecureStorage
	policy      *persist.Policy
	store       *state.Store
	client      *api.Client
	run         *Run
	clock       emp.Clock
	ids         emp.IDGenerator
	logger      emp.Logger
	logFile     *os.File
	unsubscribe func()
}

// NewEmpApp creates a fully wired EmpApp from the given config.
// The caller must call Close when done.
func NewEmpApp(ctx context.Context, cfg *config.Config, opts Options) (*EmpApp, error) {
	clock := opts.Clock
	if clock == nil {
		clock = emp.RealClock{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = emp.UUIDGenerator{}
	}
	run := NewRun(opts.Command, ids)

	a := &EmpApp{cfg: cfg, run: run, clock: clock, ids: ids, logger: opts.Logger}
	if a.logger == nil {
		level := slog.LevelDebug
		if cfg.IsProduction() {
			level = slog.LevelInfo
		}
		l, f, err := newLogger(cfg.LogDir, run.ID, level)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		a.logger = &slogAdapter{l: l}
		a.logFile = f
	}

	if err := a.wire(ctx, opts); err != nil {
		a.closeResources()
		return nil, err
	}
	a.logger.Debug("run started", "command", run.Command)
	return a, nil
}

func (a *EmpApp) wire(ctx context.Context, opts Options) error {
	cfg := a.cfg

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	a.general, err = storage.NewStorageFromConfig(ctx, cfg.Storage, a.clock)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}

	a.secure, err = storage.NewSecureStorageFromConfig(cfg.Secure, enc)
	if err != nil {
		return fmt.Errorf("creating secure storage: %w", err)
	}
	switch {
	case !enc.IsConfigured():
		a.logger.Warn("encryption keys not initialized; the session will not be persisted")
	case opts.Passphrase == nil:
		a.logger.Debug("no passphrase source; secure storage stays locked")
	default:
		passphrase, err := opts.Passphrase()
		if err != nil {
			return err
		}
		if err := a.secure.Unlock(passphrase); err != nil {
			return err
		}
	}

	compress := transform.NewCompress(transform.Config{
		Blacklist:   cfg.Persist.SecurePartitions,
		Diagnostics: !cfg.IsProduction(),
		Logger:      a.logger,
	})
	a.policy, err = persist.NewPolicy(persist.PolicyConfig{
		Key:              cfg.Persist.Key,
		Version:          cfg.Persist.Version,
		SecureKey:        cfg.Persist.SecureKey,
		SecurePartitions: cfg.Persist.SecurePartitions,
		General:          a.general,
		Secure:           a.secure,
		Transforms:       []persist.Transform{compress},
		Logger:           a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating persistence policy: %w", err)
	}

	a.store = state.NewStore(a.clock, a.logger)
	parts, err := a.policy.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted state: %w", err)
	}
	if err := a.store.Rehydrate(parts); err != nil {
		return fmt.Errorf("rehydrating state: %w", err)
	}

	var issuer *auth.TokenIssuer
	if cfg.API.TokenSecret != "" {
		issuer, err = auth.NewTokenIssuer([]byte(cfg.API.TokenSecret),
			time.Duration(cfg.API.TokenTTLMinutes)*time.Minute, a.clock)
		if err != nil {
			return fmt.Errorf("creating token issuer: %w", err)
		}
	}

	a.client, err = api.New(api.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    time.Duration(cfg.API.TimeoutSeconds) * time.Second,
		HTTPClient: opts.HTTPClient,
		Issuer:     issuer,
		Clock:      a.clock,
		Logger:     a.logger,
	}, a.store)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}

	a.unsubscribe = a.store.Subscribe(func(state.Action) {
		a.run.MarkDirty()
	})
	return nil
}

// fail records err on the run and returns it unchanged.
func (a *EmpApp) fail(err error) error {
	if err != nil {
		a.run.Fail()
	}
	return err
}

func (a *EmpApp) requireSession() error {
	if !a.store.Session().IsLoggedIn {
		return a.fail(ErrNotLoggedIn)
	}
	return nil
}

// Login validates the credentials and starts a session.
func (a *EmpApp) Login(ctx context.Context, username, password string) (api.LoginResult, error) {
	res, err := a.client.Login(ctx, api.Credentials{Username: username, Password: password})
	if err != nil {
		return api.LoginResult{}, a.fail(err)
	}
	if !a.secure.Unlocked() {
		a.logger.Warn("secure storage is locked; the session will last for this run only")
	}
	return res, nil
}

// Logout ends the session and drops every cached read.
func (a *EmpApp) Logout() error {
	return a.fail(a.store.Dispatch(state.LoggedOut{}))
}

// Session returns the current session.
func (a *EmpApp) Session() state.Session {
	return a.store.Session()
}

// ListEmployees returns all employees. With refresh the cache is bypassed.
func (a *EmpApp) ListEmployees(ctx context.Context, refresh bool) ([]model.Employee, error) {
	if err := a.requireSession(); err != nil {
		return nil, err
	}
	var (
		list []model.Employee
		err  error
	)
	if refresh {
		list, err = a.client.RefetchEmployees(ctx)
	} else {
		list, err = a.client.ListEmployees(ctx)
	}
	return list, a.fail(err)
}

// GetEmployee returns one employee.
func (a *EmpApp) GetEmployee(ctx context.Context, id model.ID) (model.Employee, error) {
	if err := a.requireSession(); err != nil {
		return model.Employee{}, err
	}
	e, err := a.client.GetEmployeeDetails(ctx, id)
	return e, a.fail(err)
}

// NewForm starts a create session.
func (a *EmpApp) NewForm() *form.Form {
	return form.New(a.ids)
}

// EditForm starts an edit session for the employee with id.
func (a *EmpApp) EditForm(ctx context.Context, id model.ID) (*form.Form, error) {
	e, err := a.GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	return form.FromEmployee(e, a.ids), nil
}

// CreateEmployee submits a create form.
func (a *EmpApp) CreateEmployee(ctx context.Context, f *form.Form) (model.Employee, error) {
	if err := a.requireSession(); err != nil {
		return model.Employee{}, err
	}
	if _, editing := f.Editing(); editing {
		return model.Employee{}, a.fail(fmt.Errorf("form edits an existing employee"))
	}
	payload, err := f.Submit(a.clock.Now())
	if err != nil {
		return model.Employee{}, a.fail(err)
	}
	e, err := a.client.CreateEmployee(ctx, payload)
	if err != nil {
		return model.Employee{}, a.fail(err)
	}
	a.logger.Info("employee created", "id", e.ID)
	return e, nil
}

// UpdateEmployee submits an edit form.
func (a *EmpApp) UpdateEmployee(ctx context.Context, f *form.Form) (model.Employee, error) {
	if err := a.requireSession(); err != nil {
		return model.Employee{}, err
	}
	if _, editing := f.Editing(); !editing {
		return model.Employee{}, a.fail(fmt.Errorf("form does not edit an existing employee"))
	}
	payload, err := f.Submit(a.clock.Now())
	if err != nil {
		return model.Employee{}, a.fail(err)
	}
	e, err := a.client.UpdateEmployee(ctx, payload)
	if err != nil {
		return model.Employee{}, a.fail(err)
	}
	a.logger.Info("employee updated", "id", e.ID)
	return e, nil
}

// Invalidate marks every cached employee read as stale.
func (a *EmpApp) Invalidate() error {
	return a.fail(a.client.InvalidateTags(state.Tag{Type: state.TagEmployee}))
}

// Flush writes the current state to storage. A locked secure storage only
// skips the secure document.
func (a *EmpApp) Flush(ctx context.Context) error {
	parts := a.store.Partitions()
	if err := a.policy.Secure().Save(ctx, parts); err != nil {
		if !errors.Is(err, emp.ErrLocked) {
			return err
		}
		a.logger.Debug("secure storage locked; session not saved")
	}
	return a.policy.General().Save(ctx, parts)
}

// Close flushes state if the run changed it and releases all resources.
func (a *EmpApp) Close() error {
	var firstErr error
	if a.run.Dirty() {
		if err := a.Flush(context.Background()); err != nil {
			firstErr = fmt.Errorf("saving state: %w", err)
		}
	}
	a.logger.Debug("run finished", "command", a.run.Command, "status", a.run.Status, "dirty", a.run.Dirty())

	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *EmpApp) closeResources() error {
	var firstErr error
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.general != nil {
		if err := storage.Close(a.general); err != nil {
			firstErr = fmt.Errorf("closing storage: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
