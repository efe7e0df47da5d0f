package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/accounts/internal/model"
)

// UsersCollection はユーザードキュメントを格納するコレクション名。
const UsersCollection = "users"

// 一意インデックス名。重複キーエラーの判別に使う。
const (
	userNameIndex = "userName_1"
	emailIndex    = "email_1"
)

// userDocument はusersコレクションのドキュメント表現。
type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	UserName     string             `bson:"userName"`
	Email        string             `bson:"email"`
	FullName     string             `bson:"fullName"`
	Avatar       string             `bson:"avatar"`
	Password     string             `bson:"password"`
	RefreshToken string             `bson:"refreshToken,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d *userDocument) toModel() *model.User {
	return &model.User{
		ID:           d.ID.Hex(),
		UserName:     d.UserName,
		Email:        d.Email,
		FullName:     d.FullName,
		Avatar:       d.Avatar,
		Password:     d.Password,
		RefreshToken: d.RefreshToken,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(coll *mongo.Collection) *MongoUserRepo {
	return &MongoUserRepo{coll: coll}
}

// EnsureIndexes はuserNameとemailの一意インデックスを作成する。
// 既に存在する場合は何もしない。
func (r *MongoUserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userName", Value: 1}},
			Options: options.Index().SetName(userNameIndex).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName(emailIndex).SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。IDが不正な形式の場合も見つからない扱いとする。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid}, "failed to find user by ID")
}

// FindByEmailOrUserName はemailまたはuserNameが一致するユーザーを最大2件返す。
func (r *MongoUserRepo) FindByEmailOrUserName(ctx context.Context, email, userName string) ([]*model.User, error) {
	filter := bson.M{"$or": []bson.M{
		{"email": email},
		{"userName": userName},
	}}

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetLimit(2))
	if err != nil {
		return nil, fmt.Errorf("failed to find users by email or userName: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]*model.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toModel())
	}
	return users, nil
}

// FindByUserName はuserNameでユーザーを検索する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByUserName(ctx context.Context, userName string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"userName": userName}, "failed to find user by userName")
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M, errMsg string) (*model.User, error) {
	var doc userDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return doc.toModel(), nil
}

// Create はユーザーを作成する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDocument{
		ID:        primitive.NewObjectID(),
		UserName:  user.UserName,
		Email:     user.Email,
		FullName:  user.FullName,
		Avatar:    user.Avatar,
		Password:  user.Password,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert user: %w", translateMongoError(err))
	}

	user.ID = doc.ID.Hex()
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// UpdateRefreshToken はリフレッシュトークンのみを$setで更新する。
func (r *MongoUserRepo) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	return r.update(ctx, id, bson.M{
		"$set": bson.M{"refreshToken": refreshToken, "updatedAt": time.Now().UTC()},
	})
}

// ClearRefreshToken はリフレッシュトークンを$unsetで削除する。
func (r *MongoUserRepo) ClearRefreshToken(ctx context.Context, id string) error {
	return r.update(ctx, id, bson.M{
		"$unset": bson.M{"refreshToken": 1},
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (r *MongoUserRepo) update(ctx context.Context, id string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}

	result, err := r.coll.UpdateByID(ctx, oid, update)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

// translateMongoError は重複キーエラーをインデックス名から判別する。
func translateMongoError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "index: "+userNameIndex):
		return ErrDuplicateUserName
	case strings.Contains(msg, "index: "+emailIndex):
		return ErrDuplicateEmail
	default:
		return err
	}
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
