package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

const (
	attrPK           = "PK"
	attrSK           = "SK"
	attrDeviceID     = "device_id"
	attrLedgerRef    = "ledger_ref"
	attrTxHash       = "tx_hash"
	attrOwner        = "owner"
	attrMintedAt     = "minted_at"
	attrLastSyncedAt = "last_synced_at"
	attrProfile      = "profile"

	passportSK = "PASSPORT"
)

type Config struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	StrongReads     bool
}

// PassportRepository implements repository.PassportRepository on a single DynamoDB table.
// Conditional writes enforce one passport per device.
type PassportRepository struct {
	client      *dynamodb.Client
	tableName   string
	strongReads bool
}

func NewPassportRepository(ctx context.Context, cfg Config) (*PassportRepository, error) {
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)
	if accessKeyID != "" || secretAccessKey != "" {
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, fmt.Errorf("both dynamodb access key id and secret access key are required for static credentials")
		}
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config for dynamodb: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
	})

	return &PassportRepository{
		client:      client,
		tableName:   strings.TrimSpace(cfg.TableName),
		strongReads: cfg.StrongReads,
	}, nil
}

// Create stores the passport only if the device has none yet
func (r *PassportRepository) Create(ctx context.Context, passport *entity.Passport) error {
	item, err := toItem(passport)
	if err != nil {
		return err
	}

	condition := "attribute_not_exists(#pk)"
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &r.tableName,
		Item:                     item,
		ConditionExpression:      &condition,
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("%w: %s", domainerr.ErrAlreadyMinted, passport.DeviceID())
	}
	if err != nil {
		return fmt.Errorf("dynamodb put passport failed: %w", err)
	}
	return nil
}

// Update overwrites an existing passport
func (r *PassportRepository) Update(ctx context.Context, passport *entity.Passport) error {
	item, err := toItem(passport)
	if err != nil {
		return err
	}

	condition := "attribute_exists(#pk)"
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &r.tableName,
		Item:                     item,
		ConditionExpression:      &condition,
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("%w: passport for %s", domainerr.ErrNotFound, passport.DeviceID())
	}
	if err != nil {
		return fmt.Errorf("dynamodb update passport failed: %w", err)
	}
	return nil
}

// FindByDeviceID loads the passport of a device
func (r *PassportRepository) FindByDeviceID(ctx context.Context, deviceID string) (*entity.Passport, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.tableName,
		Key:            itemKey(deviceID),
		ConsistentRead: boolPointer(r.strongReads),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get passport failed: %w", err)
	}
	if len(output.Item) == 0 {
		return nil, fmt.Errorf("%w: passport for %s", domainerr.ErrNotFound, deviceID)
	}
	return fromItem(output.Item)
}

func itemKey(deviceID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: buildPK(deviceID)},
		attrSK: &types.AttributeValueMemberS{Value: passportSK},
	}
}

func toItem(passport *entity.Passport) (map[string]types.AttributeValue, error) {
	deviceID := strings.TrimSpace(passport.DeviceID())
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	profile, err := json.Marshal(passport.Profile())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	item := itemKey(deviceID)
	item[attrDeviceID] = &types.AttributeValueMemberS{Value: deviceID}
	item[attrLedgerRef] = &types.AttributeValueMemberS{Value: passport.LedgerRef()}
	item[attrMintedAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(passport.MintedAt().UnixMilli(), 10)}
	item[attrLastSyncedAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(passport.LastSyncedAt().UnixMilli(), 10)}
	item[attrProfile] = &types.AttributeValueMemberS{Value: string(profile)}

	if tx := strings.TrimSpace(passport.TxHash()); tx != "" {
		item[attrTxHash] = &types.AttributeValueMemberS{Value: tx}
	}
	if owner := strings.TrimSpace(passport.Owner()); owner != "" {
		item[attrOwner] = &types.AttributeValueMemberS{Value: owner}
	}

	return item, nil
}

func fromItem(item map[string]types.AttributeValue) (*entity.Passport, error) {
	deviceID, err := attrString(item, attrDeviceID)
	if err != nil {
		return nil, err
	}
	ledgerRef, err := attrString(item, attrLedgerRef)
	if err != nil {
		return nil, err
	}
	mintedAtMS, err := attrInt64(item, attrMintedAt)
	if err != nil {
		return nil, err
	}
	rawProfile, err := attrString(item, attrProfile)
	if err != nil {
		return nil, err
	}

	var profile entity.CircularityProfile
	if err := json.Unmarshal([]byte(rawProfile), &profile); err != nil {
		return nil, fmt.Errorf("invalid attribute %s: %w", attrProfile, err)
	}

	lastSyncedAt := time.UnixMilli(mintedAtMS).UTC()
	if ms := optionalInt64(item, attrLastSyncedAt); ms > 0 {
		lastSyncedAt = time.UnixMilli(ms).UTC()
	}

	return entity.ReconstructPassport(
		deviceID,
		ledgerRef,
		optionalString(item, attrTxHash),
		optionalString(item, attrOwner),
		profile,
		time.UnixMilli(mintedAtMS).UTC(),
		lastSyncedAt,
	), nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func buildPK(deviceID string) string {
	return "DEVICE#" + deviceID
}

func attrString(item map[string]types.AttributeValue, name string) (string, error) {
	raw, ok := item[name]
	if !ok {
		return "", fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberS)
	if !ok || strings.TrimSpace(value.Value) == "" {
		return "", fmt.Errorf("invalid attribute %s", name)
	}
	return value.Value, nil
}

func optionalString(item map[string]types.AttributeValue, name string) string {
	raw, ok := item[name]
	if !ok {
		return ""
	}
	value, ok := raw.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return value.Value
}

func attrInt64(item map[string]types.AttributeValue, name string) (int64, error) {
	raw, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid attribute %s", name)
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid attribute %s: %w", name, err)
	}
	return parsed, nil
}

func optionalInt64(item map[string]types.AttributeValue, name string) int64 {
	raw, ok := item[name]
	if !ok {
		return 0
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func boolPointer(v bool) *bool {
	return &v
}
