package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddItemValidation(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		role   Role
		title  string
		author string
		status Status
		kind   error
	}{
		{name: "guest", role: RoleGuest, title: "Dune", author: "Herbert", kind: ErrPermission},
		{name: "empty role", role: "", title: "Dune", author: "Herbert", kind: ErrPermission},
		{name: "empty title", role: RoleAdmin, title: "", author: "Herbert", kind: ErrValidation},
		{name: "blank title", role: RoleAdmin, title: "   ", author: "Herbert", kind: ErrValidation},
		{name: "empty author", role: RoleAdmin, title: "Dune", author: "", kind: ErrValidation},
		{name: "unknown status", role: RoleAdmin, title: "Dune", author: "Herbert", status: "Lost", kind: ErrValidation},
		{name: "starts borrowed", role: RoleAdmin, title: "Dune", author: "Herbert", status: StatusBorrowed, kind: ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.AddItem(ctx, tc.role, tc.title, tc.author, tc.status)
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	items, err := mgr.SearchItems(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, items, "failed adds must not change state")
}

func TestAddItemTrimsAndDefaultsStatus(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	id, err := mgr.AddItem(ctx, RoleAdmin, "  Dune ", " Herbert", "")
	require.NoError(t, err)
	assert.Positive(t, id)

	item, err := mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, Item{ID: id, Title: "Dune", Author: "Herbert", Status: StatusAvailable}, *item)
}

func TestAddItemDuplicateTitle(t *testing.T) {
	mgr := newManager(t)
	addItems(t, mgr, "Dune")

	_, err := mgr.AddItem(context.Background(), RoleAdmin, "Dune", "Someone Else", StatusAvailable)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAddItemWithOrphanedOpenEntry(t *testing.T) {
	mgr := newManager(t)
	insertEntry(t, mgr.db, "alice", "Dune", testStart, nil)

	_, err := mgr.AddItem(context.Background(), RoleAdmin, "Dune", "Herbert", StatusAvailable)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRemoveItem(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune", "Emma")

	_, err := mgr.Borrow(ctx, "alice", "Emma")
	require.NoError(t, err)
	_, err = mgr.Return(ctx, "alice", "Emma")
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.RemoveItem(ctx, RoleGuest, "Emma"), ErrPermission)
	assert.ErrorIs(t, mgr.RemoveItem(ctx, RoleAdmin, "Missing"), ErrNotFound)

	require.NoError(t, mgr.RemoveItem(ctx, RoleAdmin, "Emma"))
	_, err = mgr.GetItem(ctx, "Emma")
	assert.ErrorIs(t, err, ErrNotFound)

	// history outlives the item
	p, err := mgr.Ledger(ctx, LedgerQuery{Search: "Emma"})
	require.NoError(t, err)
	assert.Len(t, p.Rows, 1)
	assertInvariants(t, mgr)
}

func TestRemoveBorrowedItemConflicts(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune")
	_, err := mgr.Borrow(ctx, "alice", "Dune")
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.RemoveItem(ctx, RoleAdmin, "Dune"), ErrConflict)
	item, err := mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, item.Status)
}

func TestSetStatusMissingItem(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	err := mgr.db.withTx(ctx, "test", func(tx DBTX) error {
		return mgr.inventory.SetStatus(ctx, tx, "Missing", StatusBorrowed)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = mgr.db.withTx(ctx, "test", func(tx DBTX) error {
		return mgr.inventory.SetStatus(ctx, tx, "Missing", "Lost")
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorCarriesContext(t *testing.T) {
	mgr := newManager(t)
	_, err := mgr.Borrow(context.Background(), "alice", "Nowhere")
	require.ErrorIs(t, err, ErrNotFound)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "Nowhere", e.Entity)
	assert.NotEmpty(t, e.Op)
	assert.Contains(t, err.Error(), "Nowhere")
}
