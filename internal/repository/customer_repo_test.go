package repository

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mersvpn/mersyar/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Customer{}, &models.Invoice{}))
	return db
}

func TestDecreaseBalanceGuardsAgainstOverdraft(t *testing.T) {
	db := newTestDB(t)
	repo := NewCustomerRepository(db)
	require.NoError(t, db.Create(&models.Customer{TelegramID: 42, WalletBalance: 1000}).Error)

	ok, err := repo.DecreaseBalance(42, 600)
	require.NoError(t, err)
	assert.True(t, ok)

	// The remaining 400 cannot cover another 600.
	ok, err = repo.DecreaseBalance(42, 600)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := repo.FindByTelegramID(42)
	require.NoError(t, err)
	assert.Equal(t, int64(400), c.WalletBalance)

	ok, err = repo.DecreaseBalance(42, 400)
	require.NoError(t, err)
	assert.True(t, ok)

	c, err = repo.FindByTelegramID(42)
	require.NoError(t, err)
	assert.Zero(t, c.WalletBalance)
}

func TestDecreaseBalanceUnknownCustomer(t *testing.T) {
	db := newTestDB(t)
	repo := NewCustomerRepository(db)

	ok, err := repo.DecreaseBalance(999, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewCustomerRepository(db)

	first, err := repo.FindOrCreate(42, "Alice")
	require.NoError(t, err)
	require.NoError(t, repo.IncreaseBalance(42, 500))

	again, err := repo.FindOrCreate(42, "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, first.TelegramID, again.TelegramID)
	assert.Equal(t, "Alice", again.FirstName)
	assert.Equal(t, int64(500), again.WalletBalance)
}

func TestInvoiceTransitionClaimsOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)

	invoice := &models.Invoice{TelegramID: 42, Type: models.InvoiceTypeManual, Price: 100, Status: models.InvoiceStatusPending}
	require.NoError(t, repo.Create(invoice))

	claimed, err := repo.Transition(invoice.ID, models.InvoiceStatusApproved)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The pending guard refuses every later transition attempt.
	claimed, err = repo.Transition(invoice.ID, models.InvoiceStatusRejected)
	require.NoError(t, err)
	assert.False(t, claimed)

	loaded, err := repo.FindByID(invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusApproved, loaded.Status)
}

func TestInvoiceTransitionConcurrentSettlers(t *testing.T) {
	db := newTestDB(t)

	// One connection serializes the writes at the database, so neither
	// settler fails with a busy error and the guard alone decides.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := NewInvoiceRepository(db)
	invoice := &models.Invoice{TelegramID: 42, Type: models.InvoiceTypeManual, Price: 100, Status: models.InvoiceStatusPending}
	require.NoError(t, repo.Create(invoice))

	// An admin click and the auto-approve timer settling at the same
	// moment: exactly one of them may win.
	var wins int32
	var wg sync.WaitGroup
	for _, to := range []string{models.InvoiceStatusApproved, models.InvoiceStatusRejected} {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			claimed, tErr := repo.Transition(invoice.ID, to)
			assert.NoError(t, tErr)
			if claimed {
				atomic.AddInt32(&wins, 1)
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&wins))

	loaded, err := repo.FindByID(invoice.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.InvoiceStatusPending, loaded.Status)
}
