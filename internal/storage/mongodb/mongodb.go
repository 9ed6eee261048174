package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"authtoken/internal/domain/models"
	"authtoken/internal/storage"
)

const tokensCollection = "tokens"

type Storage struct {
	storage.Hooks

	client   *mongo.Client
	database *mongo.Database
	tokens   *mongo.Collection
	now      func() time.Time
}

type tokenDoc struct {
	UserID                        bson.ObjectID `bson:"user_id"`
	ResetPasswordToken            string        `bson:"reset_password_token,omitempty"`
	ResetPasswordExpires          *time.Time    `bson:"reset_password_expires,omitempty"`
	EmailVerificationToken        string        `bson:"email_verification_token,omitempty"`
	EmailVerificationExpiresToken *time.Time    `bson:"email_verification_expires_token,omitempty"`
	AccessToken                   string        `bson:"access_token,omitempty"`
	RefreshToken                  string        `bson:"refresh_token,omitempty"`
	CreatedAt                     time.Time     `bson:"created_at"`
	UpdatedAt                     time.Time     `bson:"updated_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		tokens:   db.Collection(tokensCollection),
		now:      time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "reset_password_token", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "email_verification_token", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "refresh_token", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("tokens indexes: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SaveRecord upserts rec by user id. Unset fields are removed from the stored
// document so a token and its expiry always disappear together.
func (s *Storage) SaveRecord(ctx context.Context, rec *models.TokenRecord) error {
	const op = "storage.mongodb.SaveRecord"

	now := s.now().UTC()

	set := bson.D{{Key: "updated_at", Value: now}}
	var unset bson.D

	setString := func(key, value string) {
		if value != "" {
			set = append(set, bson.E{Key: key, Value: value})
			return
		}
		unset = append(unset, bson.E{Key: key, Value: ""})
	}
	setTime := func(key string, value time.Time) {
		if !value.IsZero() {
			set = append(set, bson.E{Key: key, Value: value.UTC()})
			return
		}
		unset = append(unset, bson.E{Key: key, Value: ""})
	}

	setString("reset_password_token", rec.ResetPasswordToken)
	setTime("reset_password_expires", rec.ResetPasswordExpires)
	setString("email_verification_token", rec.EmailVerificationToken)
	setTime("email_verification_expires_token", rec.EmailVerificationExpiresToken)
	setString("access_token", rec.AccessToken)
	setString("refresh_token", rec.RefreshToken)

	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc tokenDoc
	err := s.tokens.FindOneAndUpdate(ctx, bson.D{{Key: "user_id", Value: rec.UserID}}, update, opts).Decode(&doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrRecordExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	*rec = doc.toModel()
	s.RunAfterSave(ctx, *rec)

	return nil
}

// Record retrieves the record of a user.
func (s *Storage) Record(ctx context.Context, userID bson.ObjectID) (*models.TokenRecord, error) {
	return s.findOne(ctx, "storage.mongodb.Record", bson.D{{Key: "user_id", Value: userID}})
}

// RecordByResetToken retrieves the record holding the given reset token.
func (s *Storage) RecordByResetToken(ctx context.Context, token string) (*models.TokenRecord, error) {
	return s.findOne(ctx, "storage.mongodb.RecordByResetToken", bson.D{{Key: "reset_password_token", Value: token}})
}

// RecordByVerificationToken retrieves the record holding the given verification token.
func (s *Storage) RecordByVerificationToken(ctx context.Context, token string) (*models.TokenRecord, error) {
	return s.findOne(ctx, "storage.mongodb.RecordByVerificationToken", bson.D{{Key: "email_verification_token", Value: token}})
}

// RecordByRefreshToken retrieves the record holding the given refresh token.
func (s *Storage) RecordByRefreshToken(ctx context.Context, token string) (*models.TokenRecord, error) {
	return s.findOne(ctx, "storage.mongodb.RecordByRefreshToken", bson.D{{Key: "refresh_token", Value: token}})
}

func (s *Storage) findOne(ctx context.Context, op string, filter bson.D) (*models.TokenRecord, error) {
	var doc tokenDoc
	err := s.tokens.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec := doc.toModel()
	return &rec, nil
}

// DeleteRecord removes the record of a user.
func (s *Storage) DeleteRecord(ctx context.Context, userID bson.ObjectID) error {
	const op = "storage.mongodb.DeleteRecord"

	res, err := s.tokens.DeleteOne(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}

	return nil
}

// ClearExpired unsets every reset and verification token expired at now and
// returns how many token pairs were cleared. Save hooks do not run here.
func (s *Storage) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.mongodb.ClearExpired"

	pairs := []struct{ token, expires string }{
		{"reset_password_token", "reset_password_expires"},
		{"email_verification_token", "email_verification_expires_token"},
	}

	var cleared int64
	for _, p := range pairs {
		res, err := s.tokens.UpdateMany(ctx,
			bson.D{{Key: p.expires, Value: bson.D{{Key: "$lt", Value: now.UTC()}}}},
			bson.D{
				{Key: "$unset", Value: bson.D{
					{Key: p.token, Value: ""},
					{Key: p.expires, Value: ""},
				}},
				{Key: "$set", Value: bson.D{{Key: "updated_at", Value: s.now().UTC()}}},
			},
		)
		if err != nil {
			return cleared, fmt.Errorf("%s: %s: %w", op, p.token, err)
		}
		cleared += res.ModifiedCount
	}

	return cleared, nil
}

func (d tokenDoc) toModel() models.TokenRecord {
	rec := models.TokenRecord{
		UserID:                 d.UserID,
		ResetPasswordToken:     d.ResetPasswordToken,
		EmailVerificationToken: d.EmailVerificationToken,
		AccessToken:            d.AccessToken,
		RefreshToken:           d.RefreshToken,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
	if d.ResetPasswordExpires != nil {
		rec.ResetPasswordExpires = *d.ResetPasswordExpires
	}
	if d.EmailVerificationExpiresToken != nil {
		rec.EmailVerificationExpiresToken = *d.EmailVerificationExpiresToken
	}
	return rec
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}
