// Package mongo implements board.Store on a MongoDB replica set. Sessions
// map onto driver sessions with multi-document transactions; the ordered
// task-reference list is a document array maintained with $push/$pull.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskdesk/internal/board"
)

// Store implements board.Store using the official MongoDB driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to the deployment at uri and pings it.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) users() *mongo.Collection    { return s.db.Collection("users") }
func (s *Store) projects() *mongo.Collection { return s.db.Collection("projects") }
func (s *Store) tasks() *mongo.Collection    { return s.db.Collection("tasks") }
func (s *Store) files() *mongo.Collection    { return s.db.Collection("files") }

type session struct {
	sess mongo.Session
	done bool
}

// Begin starts a driver session with an open transaction.
func (s *Store) Begin(ctx context.Context) (board.Session, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return &session{sess: sess}, nil
}

func (sess *session) Commit(ctx context.Context) error {
	sess.done = true
	if err := sess.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (sess *session) Abort(ctx context.Context) error {
	sess.done = true
	if err := sess.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("abort transaction: %w", err)
	}
	return nil
}

func (sess *session) End(ctx context.Context) {
	if !sess.done {
		_ = sess.sess.AbortTransaction(ctx)
		sess.done = true
	}
	sess.sess.EndSession(ctx)
}

// opCtx binds ctx to the session's transaction when one is supplied.
func opCtx(ctx context.Context, bs board.Session) (context.Context, error) {
	if bs == nil {
		return ctx, nil
	}
	sess, ok := bs.(*session)
	if !ok {
		return nil, fmt.Errorf("session does not belong to this store")
	}
	return mongo.NewSessionContext(ctx, sess.sess), nil
}

func classify(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return board.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Store) Users() board.UserRepository       { return &userRepo{s} }
func (s *Store) Projects() board.ProjectRepository { return &projectRepo{s} }
func (s *Store) Tasks() board.TaskRepository       { return &taskRepo{s} }
func (s *Store) Files() board.FileRepository       { return &fileRepo{s} }

type userRepo struct{ s *Store }

func (r *userRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.User, error) {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return nil, err
	}
	var u board.User
	if err := r.s.users().FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, classify(err, "failed to find user")
	}
	return &u, nil
}

func (r *userRepo) Insert(ctx context.Context, bs board.Session, u *board.User) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	if _, err := r.s.users().InsertOne(ctx, u); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

type projectRepo struct{ s *Store }

func (r *projectRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.Project, error) {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return nil, err
	}
	var p board.Project
	if err := r.s.projects().FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, classify(err, "failed to find project")
	}
	if p.TaskIDs == nil {
		p.TaskIDs = []string{}
	}
	return &p, nil
}

func (r *projectRepo) Insert(ctx context.Context, bs board.Session, p *board.Project) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	if _, err := r.s.projects().InsertOne(ctx, p); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (r *projectRepo) UpdateByID(ctx context.Context, bs board.Session, id string, upd board.ProjectUpdate) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.FileID != nil {
		set["fileId"] = *upd.FileID
	}

	res, err := r.s.projects().UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return requireMatched(res)
}

func (r *projectRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	res, err := r.s.projects().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if res.DeletedCount == 0 {
		return board.ErrNotFound
	}
	return nil
}

func (r *projectRepo) PushTask(ctx context.Context, bs board.Session, projectID, taskID string) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	res, err := r.s.projects().UpdateByID(ctx, projectID, bson.M{
		"$push": bson.M{"taskIds": taskID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to push task ref: %w", err)
	}
	return requireMatched(res)
}

func (r *projectRepo) PullTask(ctx context.Context, bs board.Session, projectID, taskID string) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	res, err := r.s.projects().UpdateByID(ctx, projectID, bson.M{
		"$pull": bson.M{"taskIds": taskID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to pull task ref: %w", err)
	}
	return requireMatched(res)
}

func (r *projectRepo) List(ctx context.Context, page, limit int, asc bool) ([]*board.Project, int, error) {
	total, err := r.s.projects().CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	dir := -1
	if asc {
		dir = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: dir}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cur, err := r.s.projects().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query projects: %w", err)
	}
	var out []*board.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("failed to decode projects: %w", err)
	}
	return out, int(total), nil
}

func (r *projectRepo) Search(ctx context.Context, query string) ([]*board.Project, error) {
	filter := bson.M{"title": bson.M{"$regex": primitive.Regex{Pattern: query, Options: "i"}}}
	cur, err := r.s.projects().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}
	var out []*board.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return out, nil
}

type taskRepo struct{ s *Store }

func (r *taskRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.Task, error) {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return nil, err
	}
	var t board.Task
	if err := r.s.tasks().FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, classify(err, "failed to find task")
	}
	return &t, nil
}

func (r *taskRepo) Insert(ctx context.Context, bs board.Session, t *board.Task) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	if _, err := r.s.tasks().InsertOne(ctx, t); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *taskRepo) UpdateByID(ctx context.Context, bs board.Session, id string, upd board.TaskUpdate) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.FileID != nil {
		set["fileId"] = *upd.FileID
	}

	res, err := r.s.tasks().UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return requireMatched(res)
}

func (r *taskRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	res, err := r.s.tasks().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return board.ErrNotFound
	}
	return nil
}

// Claim updates the task only while its performer field is unset ($in with
// null also matches a missing field), so two concurrent claims resolve to
// exactly one modified document.
func (r *taskRepo) Claim(ctx context.Context, taskID, userID string) error {
	filter := bson.M{
		"_id":         taskID,
		"performerId": bson.M{"$in": bson.A{nil, ""}},
	}
	update := bson.M{"$set": bson.M{
		"performerId": userID,
		"status":      board.StatusInProgress,
		"updatedAt":   time.Now().UTC(),
	}}

	res, err := r.s.tasks().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.s.tasks().CountDocuments(ctx, bson.M{"_id": taskID})
	if err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if n == 0 {
		return board.ErrNotFound
	}
	return fmt.Errorf("task already claimed: %w", board.ErrConflict)
}

func (r *taskRepo) SetStatus(ctx context.Context, bs board.Session, taskID string, status board.Status, clearPerformer bool) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}}
	if clearPerformer {
		update["$unset"] = bson.M{"performerId": 1}
	}

	res, err := r.s.tasks().UpdateByID(ctx, taskID, update)
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return requireMatched(res)
}

type fileRepo struct{ s *Store }

func (r *fileRepo) FindByID(ctx context.Context, bs board.Session, id string) (*board.File, error) {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return nil, err
	}
	var f board.File
	if err := r.s.files().FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		return nil, classify(err, "failed to find file")
	}
	return &f, nil
}

func (r *fileRepo) Insert(ctx context.Context, bs board.Session, f *board.File) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	if _, err := r.s.files().InsertOne(ctx, f); err != nil {
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	return nil
}

func (r *fileRepo) DeleteByID(ctx context.Context, bs board.Session, id string) error {
	ctx, err := opCtx(ctx, bs)
	if err != nil {
		return err
	}
	res, err := r.s.files().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if res.DeletedCount == 0 {
		return board.ErrNotFound
	}
	return nil
}

func requireMatched(res *mongo.UpdateResult) error {
	if res.MatchedCount == 0 {
		return board.ErrNotFound
	}
	return nil
}
