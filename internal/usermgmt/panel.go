// Package usermgmt drives the user-management panel: the cached user list,
// the add/edit/delete/change-password dialogs and the mutations behind them.
package usermgmt

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"admindash/internal/dialog"
	"admindash/internal/directory"
	"admindash/internal/models"
	"admindash/internal/mutation"
	"admindash/internal/notify"
	"admindash/internal/query"
)

// UsersKey is the query cache key of the user list.
const UsersKey = "users"

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrDialogClosed  = errors.New("dialog is not open")
	ErrUnknownAction = errors.New("unknown action")
)

type Action string

const (
	ActionAdd      Action = "add"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionPassword Action = "password"
)

func ParseAction(v string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(v))); a {
	case ActionAdd, ActionEdit, ActionDelete, ActionPassword:
		return a, nil
	}
	return "", ErrUnknownAction
}

// Directory is the subset of the directory client the panel calls.
type Directory interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, d models.UserDraft) (models.User, error)
	UpdateUser(ctx context.Context, id string, d models.UserDraft) (models.User, error)
	ChangePassword(ctx context.Context, id, newPassword string) error
	DeleteUser(ctx context.Context, id string) error
}

// FetchUsers is the query fetcher for UsersKey.
func FetchUsers(dir interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		return dir.ListUsers(ctx)
	}
}

type Options struct {
	PasswordMinLength int
	Notifier          notify.Notifier
	Recorder          mutation.Recorder
	Logger            *zap.Logger
}

type editInput struct {
	ID    string
	Draft models.UserDraft
}

type passwordInput struct {
	ID    string
	Draft models.PasswordDraft
}

type Panel struct {
	dir         Directory
	cache       *query.Cache
	minPassword int
	log         *zap.Logger

	addDialog      *dialog.Dialog[models.UserDraft]
	editDialog     *dialog.Dialog[models.UserDraft]
	deleteDialog   *dialog.Dialog[struct{}]
	passwordDialog *dialog.Dialog[models.PasswordDraft]

	addUser        *mutation.Mutation[models.UserDraft, models.User]
	editUser       *mutation.Mutation[editInput, models.User]
	deleteUser     *mutation.Mutation[string, struct{}]
	changePassword *mutation.Mutation[passwordInput, struct{}]
}

func New(dir Directory, cache *query.Cache, opts Options) *Panel {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PasswordMinLength < 1 {
		opts.PasswordMinLength = 6
	}
	p := &Panel{
		dir:            dir,
		cache:          cache,
		minPassword:    opts.PasswordMinLength,
		log:            log.Named("usermgmt"),
		addDialog:      dialog.New(models.EmptyUserDraft),
		editDialog:     dialog.New(models.EmptyUserDraft),
		deleteDialog:   dialog.New[struct{}](nil),
		passwordDialog: dialog.New[models.PasswordDraft](nil),
	}

	invalidate := func() { p.cache.Invalidate(UsersKey) }

	p.addUser = mutation.New("add_user", p.create, mutation.Options[models.UserDraft, models.User]{
		OnSuccess: []func(context.Context, models.UserDraft, models.User){
			func(context.Context, models.UserDraft, models.User) { invalidate(); p.addDialog.Close() },
		},
		OnError:       []func(context.Context, models.UserDraft, error){failOn[models.UserDraft](p.addDialog, "Failed to add user")},
		SuccessText:   "User added successfully",
		FallbackError: "Failed to add user",
		Target:        func(d models.UserDraft) string { return d.Email },
		Notifier:      opts.Notifier,
		Recorder:      opts.Recorder,
		Logger:        log,
	})
	p.editUser = mutation.New("update_user", p.update, mutation.Options[editInput, models.User]{
		OnSuccess: []func(context.Context, editInput, models.User){
			func(context.Context, editInput, models.User) { invalidate(); p.editDialog.Close() },
		},
		OnError:       []func(context.Context, editInput, error){failOn[editInput](p.editDialog, "Failed to update user")},
		SuccessText:   "User updated successfully",
		FallbackError: "Failed to update user",
		Target:        func(in editInput) string { return in.ID },
		Notifier:      opts.Notifier,
		Recorder:      opts.Recorder,
		Logger:        log,
	})
	p.deleteUser = mutation.New("delete_user", p.remove, mutation.Options[string, struct{}]{
		OnSuccess: []func(context.Context, string, struct{}){
			func(context.Context, string, struct{}) { invalidate(); p.deleteDialog.Close() },
		},
		OnError:       []func(context.Context, string, error){failOn[string](p.deleteDialog, "Failed to delete user")},
		SuccessText:   "User deleted successfully",
		FallbackError: "Failed to delete user",
		Target:        func(id string) string { return id },
		Notifier:      opts.Notifier,
		Recorder:      opts.Recorder,
		Logger:        log,
	})
	p.changePassword = mutation.New("change_password", p.setPassword, mutation.Options[passwordInput, struct{}]{
		OnSuccess: []func(context.Context, passwordInput, struct{}){
			func(context.Context, passwordInput, struct{}) { invalidate(); p.passwordDialog.Close() },
		},
		OnError:       []func(context.Context, passwordInput, error){failOn[passwordInput](p.passwordDialog, "Failed to change password")},
		SuccessText:   "Password changed successfully",
		FallbackError: "Failed to change password",
		Target:        func(in passwordInput) string { return in.ID },
		Notifier:      opts.Notifier,
		Recorder:      opts.Recorder,
		Logger:        log,
	})
	return p
}

func failOn[In, D any](d *dialog.Dialog[D], fallback string) func(context.Context, In, error) {
	return func(_ context.Context, _ In, err error) {
		d.Fail(mutation.UserMessage(err, fallback))
	}
}

// Mount subscribes the panel to the user list. The returned func releases it.
func (p *Panel) Mount() (query.State, query.Unsubscribe) {
	return p.cache.Subscribe(UsersKey, FetchUsers(p.dir), func(s query.State) {
		p.log.Debug("user list changed", zap.String("status", string(s.Status)), zap.Bool("fetching", s.Fetching))
	})
}

func (p *Panel) Users() query.State {
	return p.cache.Peek(UsersKey)
}

// List returns the last fetched users, or nil before the first fetch lands.
func (p *Panel) List() []models.User {
	users, _ := query.Value[[]models.User](p.Users())
	return users
}

func (p *Panel) lookup(id string) (models.User, error) {
	for _, u := range p.List() {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, ErrUnknownUser
}

func (p *Panel) OpenAdd() {
	p.addUser.Reset()
	p.addDialog.Open("", models.EmptyUserDraft())
}

func (p *Panel) SetAddDraft(d models.UserDraft) error {
	if !p.addDialog.Edit(func(cur *models.UserDraft) { *cur = d }) {
		return ErrDialogClosed
	}
	return nil
}

func (p *Panel) SubmitAdd(ctx context.Context) (models.User, error) {
	snap := p.addDialog.Snapshot()
	if !snap.Open {
		return models.User{}, ErrDialogClosed
	}
	return p.addUser.Mutate(ctx, snap.Draft)
}

// OpenEdit fills the edit form from the cached list. The password stays
// blank; leaving it blank keeps the stored one.
func (p *Panel) OpenEdit(id string) error {
	u, err := p.lookup(id)
	if err != nil {
		return err
	}
	p.editUser.Reset()
	p.editDialog.Open(u.ID, models.DraftFrom(u))
	return nil
}

func (p *Panel) SetEditDraft(d models.UserDraft) error {
	if !p.editDialog.Edit(func(cur *models.UserDraft) { *cur = d }) {
		return ErrDialogClosed
	}
	return nil
}

// SubmitEdit sends the whole draft as a replace of the target user.
func (p *Panel) SubmitEdit(ctx context.Context) (models.User, error) {
	snap := p.editDialog.Snapshot()
	if !snap.Open {
		return models.User{}, ErrDialogClosed
	}
	return p.editUser.Mutate(ctx, editInput{ID: snap.Target, Draft: snap.Draft})
}

func (p *Panel) OpenDelete(id string) error {
	u, err := p.lookup(id)
	if err != nil {
		return err
	}
	p.deleteUser.Reset()
	p.deleteDialog.Open(u.ID, struct{}{})
	return nil
}

func (p *Panel) ConfirmDelete(ctx context.Context) error {
	snap := p.deleteDialog.Snapshot()
	if !snap.Open {
		return ErrDialogClosed
	}
	_, err := p.deleteUser.Mutate(ctx, snap.Target)
	return err
}

func (p *Panel) OpenPassword(id string) error {
	u, err := p.lookup(id)
	if err != nil {
		return err
	}
	p.changePassword.Reset()
	p.passwordDialog.Open(u.ID, models.PasswordDraft{})
	return nil
}

func (p *Panel) SetPasswordDraft(d models.PasswordDraft) error {
	if !p.passwordDialog.Edit(func(cur *models.PasswordDraft) { *cur = d }) {
		return ErrDialogClosed
	}
	return nil
}

func (p *Panel) SubmitPassword(ctx context.Context) error {
	snap := p.passwordDialog.Snapshot()
	if !snap.Open {
		return ErrDialogClosed
	}
	_, err := p.changePassword.Mutate(ctx, passwordInput{ID: snap.Target, Draft: snap.Draft})
	return err
}

// Close dismisses the dialog of action and resets its mutation.
func (p *Panel) Close(a Action) error {
	switch a {
	case ActionAdd:
		p.addDialog.Close()
		p.addUser.Reset()
	case ActionEdit:
		p.editDialog.Close()
		p.editUser.Reset()
	case ActionDelete:
		p.deleteDialog.Close()
		p.deleteUser.Reset()
	case ActionPassword:
		p.passwordDialog.Close()
		p.changePassword.Reset()
	default:
		return ErrUnknownAction
	}
	return nil
}

func (p *Panel) create(ctx context.Context, d models.UserDraft) (models.User, error) {
	d, err := p.checkUser(d, true)
	if err != nil {
		return models.User{}, err
	}
	return p.dir.CreateUser(ctx, d)
}

func (p *Panel) update(ctx context.Context, in editInput) (models.User, error) {
	d, err := p.checkUser(in.Draft, false)
	if err != nil {
		return models.User{}, err
	}
	return p.dir.UpdateUser(ctx, in.ID, d)
}

func (p *Panel) remove(ctx context.Context, id string) (struct{}, error) {
	return struct{}{}, p.dir.DeleteUser(ctx, id)
}

func (p *Panel) setPassword(ctx context.Context, in passwordInput) (struct{}, error) {
	if err := CheckPassword(in.Draft, p.minPassword); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, p.dir.ChangePassword(ctx, in.ID, in.Draft.NewPassword)
}

// CheckPassword rejects a mismatched confirmation before a short password.
func CheckPassword(d models.PasswordDraft, minLength int) error {
	if d.NewPassword != d.ConfirmPassword {
		return directory.NewValidationError("password mismatch")
	}
	if len([]rune(d.NewPassword)) < minLength {
		return directory.NewValidationError("password too short")
	}
	return nil
}

// checkUser trims and validates a user draft. A password is required on
// create; on update a blank one is left out of the request.
func (p *Panel) checkUser(d models.UserDraft, create bool) (models.UserDraft, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.TrimSpace(d.Email)
	if d.Name == "" {
		return d, directory.NewValidationError("name is required")
	}
	if d.Email == "" {
		return d, directory.NewValidationError("email is required")
	}
	if addr, err := mail.ParseAddress(d.Email); err != nil || addr.Address != d.Email {
		return d, directory.NewValidationError("invalid email address")
	}
	role, ok := models.ParseRole(string(d.Role))
	if !ok {
		return d, directory.NewValidationError("invalid role")
	}
	d.Role = role
	if (create || d.Password != "") && len([]rune(d.Password)) < p.minPassword {
		return d, directory.NewValidationError("password too short")
	}
	return d, nil
}
