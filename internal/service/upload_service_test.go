package service

import (
	"context"
	"strings"
	"testing"

	"app/internal/apperr"
	"app/internal/model"
	"app/internal/quota"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testS3Client builds a client that can presign without any network access.
func testS3Client() *s3.Client {
	return s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("test-access", "test-secret", ""),
		BaseEndpoint: aws.String("http://localhost:9000"),
		UsePathStyle: true,
	})
}

type uploadFixture struct {
	svc       UploadService
	userRepo  *memUserRepo
	walletSvc WalletService
}

func newUploadFixture(t *testing.T, tier model.Tier, balanceCents int64) *uploadFixture {
	t.Helper()
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	planSvc := &fixedTierPlanService{tier: tier}
	usageSvc := NewUsageService(userRepo, planSvc, zerolog.Nop())
	walletRepo := newMemWalletRepo()
	walletSvc := NewWalletService(walletRepo, nil, "", zerolog.Nop())
	if balanceCents > 0 {
		_, err := walletSvc.Credit(context.Background(), "u1", balanceCents, model.ReasonTopup, nil, "", nil)
		require.NoError(t, err)
	}
	svc := NewUploadService(userRepo, planSvc, usageSvc, walletSvc, testS3Client(), "art-videos", zerolog.Nop())
	return &uploadFixture{svc: svc, userRepo: userRepo, walletSvc: walletSvc}
}

func TestInitiateUploadWithinBudget(t *testing.T) {
	f := newUploadFixture(t, model.TierBasic, 0)

	grant, err := f.svc.InitiateUpload(context.Background(), "u1", "clip.mp4", 100*quota.MB)
	require.NoError(t, err)
	assert.Zero(t, grant.OverageCents)
	assert.True(t, strings.HasPrefix(grant.StoragePath, "uploads/u1/"))
	assert.True(t, strings.HasSuffix(grant.StoragePath, "-clip.mp4"))
	assert.Contains(t, grant.UploadURL, "art-videos")
	assert.Contains(t, grant.UploadURL, "X-Amz-Signature")
	assert.Equal(t, int64(900), grant.ExpiresInSecond)

	usage, err := f.userRepo.GetUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 100*quota.MB, usage.MonthlyUploadBytes)
}

func TestInitiateUploadRejectsOversizedFile(t *testing.T) {
	f := newUploadFixture(t, model.TierFree, 0)

	// FREE caps single files at 200 MB.
	_, err := f.svc.InitiateUpload(context.Background(), "u1", "huge.mp4", 250*quota.MB)
	require.Error(t, err)
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestInitiateUploadFreeBudgetExhausted(t *testing.T) {
	f := newUploadFixture(t, model.TierFree, 100000)
	ctx := context.Background()

	// 900 MB already uploaded this month against a 1 GB budget; another
	// 200 MB cannot fit and FREE cannot buy overage, wallet or not.
	require.NoError(t, f.userRepo.AddUploadBytes(ctx, "u1", 900*quota.MB))

	_, err := f.svc.InitiateUpload(ctx, "u1", "clip.mp4", 200*quota.MB)
	qe, ok := apperr.IsQuotaExceeded(err)
	require.True(t, ok)
	assert.Equal(t, CodeMonthlyUploadLimit, qe.Code)
	assert.Equal(t, 900, qe.Used)
	assert.Equal(t, 1024, qe.Limit)
}

func TestInitiateUploadOverageDebitsWallet(t *testing.T) {
	f := newUploadFixture(t, model.TierBasic, 1000)
	ctx := context.Background()

	// Monthly budget fully spent; BASIC prices overage at 5 cents per MB.
	require.NoError(t, f.userRepo.AddUploadBytes(ctx, "u1", 10*quota.GB))

	grant, err := f.svc.InitiateUpload(ctx, "u1", "clip.mp4", 100*quota.MB)
	require.NoError(t, err)
	assert.Equal(t, int64(500), grant.OverageCents)

	balance, err := f.walletSvc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	usage, err := f.userRepo.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10*quota.GB+100*quota.MB, usage.MonthlyUploadBytes)
}

func TestInitiateUploadOverageRoundsUpToWholeMB(t *testing.T) {
	f := newUploadFixture(t, model.TierBasic, 1000)
	ctx := context.Background()

	require.NoError(t, f.userRepo.AddUploadBytes(ctx, "u1", 10*quota.GB))

	// 1.5 MB rounds up to 2 MB, so 10 cents at 5 cents per MB.
	grant, err := f.svc.InitiateUpload(ctx, "u1", "clip.mp4", quota.MB+quota.MB/2)
	require.NoError(t, err)
	assert.Equal(t, int64(10), grant.OverageCents)
}

func TestInitiateUploadOverageRefusedWithoutFunds(t *testing.T) {
	f := newUploadFixture(t, model.TierBasic, 100)
	ctx := context.Background()

	require.NoError(t, f.userRepo.AddUploadBytes(ctx, "u1", 10*quota.GB))

	_, err := f.svc.InitiateUpload(ctx, "u1", "clip.mp4", 100*quota.MB)
	ie, ok := apperr.IsInsufficientFunds(err)
	require.True(t, ok)
	assert.Equal(t, int64(500), ie.NeededCents)
	assert.Equal(t, int64(100), ie.BalanceCents)

	// Neither bytes nor balance moved.
	usage, err := f.userRepo.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10*quota.GB, usage.MonthlyUploadBytes)
	balance, _ := f.walletSvc.Balance(ctx, "u1")
	assert.Equal(t, int64(100), balance)
}

func TestInitiateUploadValidatesInput(t *testing.T) {
	f := newUploadFixture(t, model.TierBasic, 0)
	ctx := context.Background()

	_, err := f.svc.InitiateUpload(ctx, "u1", "", 100)
	assert.Error(t, err)
	_, err = f.svc.InitiateUpload(ctx, "u1", "clip.mp4", 0)
	assert.Error(t, err)
}
