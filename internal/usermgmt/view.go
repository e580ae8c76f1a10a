package usermgmt

import (
	"admindash/internal/dialog"
	"admindash/internal/models"
	"admindash/internal/mutation"
)

type ActionView[D any] struct {
	Dialog   dialog.Snapshot[D] `json:"dialog"`
	Mutation mutation.State     `json:"mutation"`
	// User is the cached record the dialog targets, if any.
	User *models.User `json:"user,omitempty"`
}

type View struct {
	Add      ActionView[models.UserDraft]     `json:"add"`
	Edit     ActionView[models.UserDraft]     `json:"edit"`
	Delete   ActionView[struct{}]             `json:"delete"`
	Password ActionView[models.PasswordDraft] `json:"password"`
}

// Dialogs snapshots every dialog with the state of its mutation.
func (p *Panel) Dialogs() View {
	return View{
		Add:      ActionView[models.UserDraft]{Dialog: p.addDialog.Snapshot(), Mutation: p.addUser.State()},
		Edit:     withTarget(p, ActionView[models.UserDraft]{Dialog: p.editDialog.Snapshot(), Mutation: p.editUser.State()}),
		Delete:   withTarget(p, ActionView[struct{}]{Dialog: p.deleteDialog.Snapshot(), Mutation: p.deleteUser.State()}),
		Password: withTarget(p, ActionView[models.PasswordDraft]{Dialog: p.passwordDialog.Snapshot(), Mutation: p.changePassword.State()}),
	}
}

func withTarget[D any](p *Panel, v ActionView[D]) ActionView[D] {
	if v.Dialog.Target == "" {
		return v
	}
	if u, err := p.lookup(v.Dialog.Target); err == nil {
		v.User = &u
	}
	return v
}
