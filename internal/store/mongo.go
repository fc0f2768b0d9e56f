package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	usersCollection     = "users"
	questionsCollection = "questions"

	idxUserEmail     = "users_email_unique"
	idxUserName      = "users_user_name_unique"
	idxQuestionText  = "questions_question_unique"
	idxQuestionOwner = "questions_user"
)

// MongoStore keeps users and questions as two collections with answers embedded.
type MongoStore struct {
	client    *mongo.Client
	users     *mongo.Collection
	questions *mongo.Collection
}

// OpenMongo connects, pings the primary and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewMongoStore(client, database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:    client,
		users:     db.Collection(usersCollection),
		questions: db.Collection(questionsCollection),
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName(idxUserEmail)},
		{Keys: bson.D{{Key: "user_name", Value: 1}}, Options: options.Index().SetUnique(true).SetName(idxUserName)},
	}); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	if _, err := s.questions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "question", Value: 1}}, Options: options.Index().SetUnique(true).SetName(idxQuestionText)},
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName(idxQuestionOwner)},
	}); err != nil {
		return fmt.Errorf("create question indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, user User) error {
	user.Email = strings.ToLower(user.Email)
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxUserName) {
				return ErrDuplicateUserName
			}
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.findUser(ctx, bson.D{{Key: "email", Value: strings.ToLower(email)}})
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.findUser(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.D) (User, error) {
	var user User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) ListUsersByID(ctx context.Context, ids []string) (map[string]User, error) {
	out := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := s.users.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	for _, user := range users {
		out[user.ID] = user
	}
	return out, nil
}

func (s *MongoStore) InsertQuestion(ctx context.Context, q Question) error {
	q.Normalize()
	if _, err := s.questions.InsertOne(ctx, q); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateQuestion
		}
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *MongoStore) FindQuestionByText(ctx context.Context, text string) (Question, error) {
	return s.findQuestion(ctx, bson.D{{Key: "question", Value: text}})
}

func (s *MongoStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	return s.findQuestion(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) findQuestion(ctx context.Context, filter bson.D) (Question, error) {
	var q Question
	if err := s.questions.FindOne(ctx, filter).Decode(&q); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Question{}, ErrNotFound
		}
		return Question{}, fmt.Errorf("find question: %w", err)
	}
	q.Normalize()
	return q, nil
}

// ReplaceQuestion writes q only if the stored version still equals q.Version.
// On success q.Version is advanced.
func (s *MongoStore) ReplaceQuestion(ctx context.Context, q *Question) error {
	expected := q.Version
	next := *q
	next.Version = expected + 1
	next.Normalize()

	result, err := s.questions.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: q.ID},
		{Key: "version", Value: expected},
	}, next)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateQuestion
		}
		return fmt.Errorf("replace question: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := s.questions.CountDocuments(ctx, bson.D{{Key: "_id", Value: q.ID}})
		if err != nil {
			return fmt.Errorf("check question: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	q.Version = next.Version
	return nil
}

func (s *MongoStore) DeleteQuestion(ctx context.Context, id string) error {
	result, err := s.questions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListQuestions(ctx context.Context) ([]Question, error) {
	return s.listQuestions(ctx, bson.D{})
}

func (s *MongoStore) ListQuestionsByUser(ctx context.Context, userID string) ([]Question, error) {
	return s.listQuestions(ctx, bson.D{{Key: "user", Value: userID}})
}

// listQuestions returns matches in insertion order.
func (s *MongoStore) listQuestions(ctx context.Context, filter bson.D) ([]Question, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.questions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	questions := []Question{}
	if err := cursor.All(ctx, &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	for i := range questions {
		questions[i].Normalize()
	}
	return questions, nil
}
