package library

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuneScenario(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.AddItem(ctx, RoleAdmin, "Dune", "Herbert", StatusAvailable)
	require.NoError(t, err)

	entry, err := mgr.Borrow(ctx, "alice", "Dune")
	require.NoError(t, err)
	assert.True(t, entry.Open())
	assert.Equal(t, testStart, entry.DateTaken)

	item, err := mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, item.Status)

	open, err := mgr.OpenEntries(ctx, "alice", "Dune")
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = mgr.Borrow(ctx, "bob", "Dune")
	assert.ErrorIs(t, err, ErrConflict)

	closed, err := mgr.Return(ctx, "alice", "Dune")
	require.NoError(t, err)
	require.NotNil(t, closed.DateReturned)
	assert.Equal(t, entry.ID, closed.ID)
	assert.True(t, closed.DateReturned.After(closed.DateTaken))

	item, err = mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, item.Status)

	open, err = mgr.OpenEntries(ctx, "alice", "Dune")
	require.NoError(t, err)
	assert.Empty(t, open)
	assertInvariants(t, mgr)
}

func TestReturnAvailableItemIsNotFound(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune")
	_, err := mgr.Borrow(ctx, "alice", "Dune")
	require.NoError(t, err)
	_, err = mgr.Return(ctx, "alice", "Dune")
	require.NoError(t, err)

	before, err := mgr.Ledger(ctx, LedgerQuery{})
	require.NoError(t, err)

	_, err = mgr.Return(ctx, "alice", "Dune")
	assert.ErrorIs(t, err, ErrNotFound)

	after, err := mgr.Ledger(ctx, LedgerQuery{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
	item, err := mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, item.Status)
}

func TestReturnByOtherAccountIsNotFound(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune")
	_, err := mgr.Borrow(ctx, "alice", "Dune")
	require.NoError(t, err)

	_, err = mgr.Return(ctx, "bob", "Dune")
	assert.ErrorIs(t, err, ErrNotFound)

	item, err := mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, item.Status, "failed return rolls back")
	assertInvariants(t, mgr)
}

func TestBorrowErrors(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune")

	_, err := mgr.Borrow(ctx, "", "Dune")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = mgr.Borrow(ctx, "alice", " ")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = mgr.Borrow(ctx, "alice", "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mgr.Return(ctx, "alice", "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToggle(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune")
	alice := Session{ID: "s1", Account: "alice", Role: RoleGuest}

	status, err := mgr.Toggle(ctx, alice, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, status)

	status, err = mgr.Toggle(ctx, alice, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, status)

	_, err = mgr.Toggle(ctx, Session{}, "Dune")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = mgr.Toggle(ctx, alice, "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assertInvariants(t, mgr)
}

func TestToggleRefusesInconsistentItem(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, mgr *LibraryManager)
	}{
		{
			name: "borrowed without entry",
			setup: func(t *testing.T, mgr *LibraryManager) {
				_, err := mgr.db.db.Exec(`UPDATE items SET status='Borrowed' WHERE title='Dune'`)
				require.NoError(t, err)
			},
		},
		{
			name: "available with entry",
			setup: func(t *testing.T, mgr *LibraryManager) {
				insertEntry(t, mgr.db, "bob", "Dune", testStart, nil)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mgr := newManager(t)
			addItems(t, mgr, "Dune")
			tc.setup(t, mgr)

			_, err := mgr.Toggle(context.Background(), Session{Account: "alice", Role: RoleGuest}, "Dune")
			assert.ErrorIs(t, err, ErrConflict)

			anomalies, err := mgr.Audit(context.Background())
			require.NoError(t, err)
			require.Len(t, anomalies, 1)
			assert.Equal(t, "Dune", anomalies[0].Title)
		})
	}
}

func TestBorrowRefusesAvailableItemWithOpenEntry(t *testing.T) {
	mgr := newManager(t)
	addItems(t, mgr, "Dune")
	insertEntry(t, mgr.db, "bob", "Dune", testStart, nil)

	_, err := mgr.Borrow(context.Background(), "alice", "Dune")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeleteRecord(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Dune", "Emma")

	// two closed records for alice/Emma, then an open one for alice/Dune
	for i := 0; i < 2; i++ {
		_, err := mgr.Borrow(ctx, "alice", "Emma")
		require.NoError(t, err)
		_, err = mgr.Return(ctx, "alice", "Emma")
		require.NoError(t, err)
	}
	_, err := mgr.Borrow(ctx, "alice", "Dune")
	require.NoError(t, err)

	_, err = mgr.DeleteRecord(ctx, RoleGuest, "alice", "Emma")
	assert.ErrorIs(t, err, ErrPermission)
	_, err = mgr.DeleteRecord(ctx, RoleAdmin, "bob", "Emma")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := mgr.DeleteRecord(ctx, RoleAdmin, "alice", "Emma")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = mgr.DeleteRecord(ctx, RoleAdmin, "alice", "Dune")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := mgr.GetItem(ctx, "Dune")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, item.Status, "deleting the open entry releases the item")

	p, err := mgr.Ledger(ctx, LedgerQuery{})
	require.NoError(t, err)
	assert.Zero(t, p.Total)
	assertInvariants(t, mgr)
}

func TestDeleteRecordOfRemovedItem(t *testing.T) {
	mgr := newManager(t)
	insertEntry(t, mgr.db, "alice", "Gone", testStart, nil)

	n, err := mgr.DeleteRecord(context.Background(), RoleAdmin, "alice", "Gone")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAuditReportsBothDirections(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addItems(t, mgr, "Fine", "Ghost", "Double")

	_, err := mgr.Borrow(ctx, "alice", "Fine")
	require.NoError(t, err)
	_, err = mgr.db.db.Exec(`UPDATE items SET status='Borrowed' WHERE title='Ghost'`)
	require.NoError(t, err)
	_, err = mgr.Borrow(ctx, "alice", "Double")
	require.NoError(t, err)
	insertEntry(t, mgr.db, "bob", "Double", testStart, nil)

	anomalies, err := mgr.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Anomaly{
		{Title: "Ghost", Status: StatusBorrowed, OpenEntries: 0},
		{Title: "Double", Status: StatusBorrowed, OpenEntries: 2},
	}, anomalies)
}

func TestInvariantsHoldUnderRandomOperations(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	titles := []string{"A", "B", "C", "D"}
	accounts := []string{"alice", "bob", "carol"}
	addItems(t, mgr, titles...)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		title := titles[rng.Intn(len(titles))]
		account := accounts[rng.Intn(len(accounts))]
		switch rng.Intn(5) {
		case 0, 1:
			_, _ = mgr.Borrow(ctx, account, title)
		case 2, 3:
			_, _ = mgr.Return(ctx, account, title)
		case 4:
			if err := mgr.RemoveItem(ctx, RoleAdmin, title); err == nil {
				_, err = mgr.AddItem(ctx, RoleAdmin, title, "Author", StatusAvailable)
				require.NoError(t, err)
			}
		}
		if i%25 == 0 {
			assertInvariants(t, mgr)
		}
	}
	assertInvariants(t, mgr)
}

func TestConcurrentBorrowOneWinner(t *testing.T) {
	mgr := newManager(t)
	addItems(t, mgr, "Dune")

	const n = 10
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Borrow(context.Background(), fmt.Sprintf("member%d", i), "Dune")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assertInvariants(t, mgr)
}

func TestConsistent(t *testing.T) {
	assert.True(t, consistent(StatusAvailable, 0))
	assert.True(t, consistent(StatusBorrowed, 1))
	assert.False(t, consistent(StatusAvailable, 1))
	assert.False(t, consistent(StatusBorrowed, 0))
	assert.False(t, consistent(StatusBorrowed, 2))
}
