package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mcpstudio/internal/api"
	"mcpstudio/pkg/logging"
)

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI      string
	Database string
}

// MongoRegistry stores each server as one document with its tools, resources
// and prompts embedded, so that a state transition together with a capability
// replacement is a single-document atomic update.
type MongoRegistry struct {
	client      *mongo.Client
	servers     *mongo.Collection
	executions  *mongo.Collection
	credentials *mongo.Collection
	now         func() time.Time
}

var _ Registry = (*MongoRegistry)(nil)

type executionDoc struct {
	ID        string    `bson:"_id"`
	ServerID  string    `bson:"serverId"`
	ToolID    string    `bson:"toolId"`
	ToolName  string    `bson:"toolName"`
	Input     string    `bson:"input"`
	Result    string    `bson:"result"`
	Error     string    `bson:"error"`
	Actor     string    `bson:"actor"`
	Status    string    `bson:"status"`
	StartedAt time.Time `bson:"startedAt"`
	EndedAt   time.Time `bson:"endedAt"`
}

type credentialDoc struct {
	Key                  string `bson:"_id"`
	api.SealedCredential `bson:",inline"`
}

// NewMongoRegistry connects to MongoDB and ensures indexes exist.
func NewMongoRegistry(ctx context.Context, cfg MongoConfig) (*MongoRegistry, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "mcpstudio"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	r := &MongoRegistry{
		client:      client,
		servers:     db.Collection("servers"),
		executions:  db.Collection("executions"),
		credentials: db.Collection("credentials"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if err := r.initIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Info("Registry", "MongoDB registry initialized (database %s)", cfg.Database)
	return r, nil
}

func (r *MongoRegistry) initIndexes(ctx context.Context) error {
	if _, err := r.servers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("failed to create server name index: %w", err)
	}
	if _, err := r.executions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "serverId", Value: 1}, {Key: "startedAt", Value: -1}},
	}); err != nil {
		return fmt.Errorf("failed to create execution index: %w", err)
	}
	return nil
}

func (r *MongoRegistry) CreateServer(ctx context.Context, server *api.Server) error {
	if err := prepareServer(server, r.now()); err != nil {
		return err
	}
	caps := api.Capabilities{Tools: server.Tools, Resources: server.Resources, Prompts: server.Prompts}
	if err := prepareCapabilities(server.ID, &caps, server.CreatedAt); err != nil {
		return err
	}
	if _, err := r.servers.InsertOne(ctx, server); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nameConflict("server", server.Name)
		}
		return fmt.Errorf("inserting server: %w", err)
	}
	return nil
}

func (r *MongoRegistry) findServer(ctx context.Context, filter bson.M, ref string) (*api.Server, error) {
	var s api.Server
	err := r.servers.FindOne(ctx, filter).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, api.NewNotFoundError("server", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading server %s: %w", ref, err)
	}
	return &s, nil
}

func (r *MongoRegistry) GetServer(ctx context.Context, id string) (*api.Server, error) {
	return r.findServer(ctx, bson.M{"_id": id}, id)
}

func (r *MongoRegistry) GetServerByName(ctx context.Context, name string) (*api.Server, error) {
	return r.findServer(ctx, bson.M{"name": name}, name)
}

func (r *MongoRegistry) ListServers(ctx context.Context) ([]*api.Server, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetProjection(bson.M{"tools": 0, "resources": 0, "prompts": 0})
	cur, err := r.servers.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	var out []*api.Server
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding servers: %w", err)
	}
	return out, nil
}

func (r *MongoRegistry) UpdateServer(ctx context.Context, id string, update ServerUpdate) (*api.Server, error) {
	set := bson.M{"updatedAt": r.now()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Config != nil {
		set["config"] = *update.Config
	}
	res, err := r.servers.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) && update.Name != nil {
			return nil, nameConflict("server", *update.Name)
		}
		return nil, fmt.Errorf("updating server: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, api.NewNotFoundError("server", id)
	}
	return r.GetServer(ctx, id)
}

func (r *MongoRegistry) DeleteServer(ctx context.Context, id string) error {
	res, err := r.servers.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	if res.DeletedCount == 0 {
		return api.NewNotFoundError("server", id)
	}
	return nil
}

func (r *MongoRegistry) Transition(ctx context.Context, id string, t Transition) (*api.Server, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	set := bson.M{
		"state":     t.To,
		"lastError": t.Reason,
		"updatedAt": t.At,
	}
	update := bson.M{"$set": set}
	if t.DeploymentURL != "" {
		set["deploymentUrl"] = t.DeploymentURL
	} else {
		update["$unset"] = bson.M{"deploymentUrl": ""}
	}
	if t.Capabilities != nil {
		caps := cloneCapabilities(*t.Capabilities)
		if err := prepareCapabilities(id, &caps, t.At); err != nil {
			return nil, err
		}
		set["tools"] = nonNil(caps.Tools)
		set["resources"] = nonNil(caps.Resources)
		set["prompts"] = nonNil(caps.Prompts)
	}

	filter := bson.M{"_id": id}
	if len(t.From) > 0 {
		filter["state"] = bson.M{"$in": t.From}
	}

	var updated api.Server
	err := r.servers.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := r.GetServer(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, stateConflict(id, current.State, t)
	}
	if err != nil {
		return nil, fmt.Errorf("transitioning server %s: %w", id, err)
	}
	return &updated, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *MongoRegistry) ListTools(ctx context.Context, serverID string) ([]api.Tool, error) {
	s, err := r.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.Tools, nil
}

func (r *MongoRegistry) GetTool(ctx context.Context, serverID, ref string) (*api.Tool, error) {
	s, err := r.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	for _, t := range s.Tools {
		if t.ID == ref {
			return &t, nil
		}
	}
	for _, t := range s.Tools {
		if t.Name == ref {
			return &t, nil
		}
	}
	return nil, api.NewNotFoundError("tool", ref)
}

func (r *MongoRegistry) SaveTool(ctx context.Context, tool *api.Tool) error {
	if err := prepareTool(tool.ServerID, tool, r.now()); err != nil {
		return err
	}
	s, err := r.GetServer(ctx, tool.ServerID)
	if err != nil {
		return err
	}
	exists := false
	for _, t := range s.Tools {
		if t.Name == tool.Name && t.ID != tool.ID {
			return nameConflict("tool", tool.Name)
		}
		if t.ID == tool.ID {
			exists = true
			tool.CreatedAt = t.CreatedAt
		}
	}

	var res *mongo.UpdateResult
	if exists {
		res, err = r.servers.UpdateOne(ctx,
			bson.M{"_id": tool.ServerID, "tools.id": tool.ID},
			bson.M{"$set": bson.M{"tools.$": tool}})
	} else {
		res, err = r.servers.UpdateOne(ctx,
			bson.M{"_id": tool.ServerID, "tools.name": bson.M{"$ne": tool.Name}},
			bson.M{"$push": bson.M{"tools": tool}})
	}
	if err != nil {
		return fmt.Errorf("saving tool %s: %w", tool.Name, err)
	}
	if res.MatchedCount == 0 {
		return nameConflict("tool", tool.Name)
	}
	return nil
}

func (r *MongoRegistry) DeleteTool(ctx context.Context, serverID, toolID string) error {
	res, err := r.servers.UpdateOne(ctx,
		bson.M{"_id": serverID, "tools.id": toolID},
		bson.M{"$pull": bson.M{"tools": bson.M{"id": toolID}}})
	if err != nil {
		return fmt.Errorf("deleting tool: %w", err)
	}
	if res.MatchedCount == 0 {
		return api.NewNotFoundError("tool", toolID)
	}
	return nil
}

func (r *MongoRegistry) ListResources(ctx context.Context, serverID string) ([]api.Resource, error) {
	s, err := r.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.Resources, nil
}

func (r *MongoRegistry) SaveResource(ctx context.Context, resource *api.Resource) error {
	prepareResource(resource.ServerID, resource)
	return r.upsertEmbedded(ctx, resource.ServerID, "resources", resource.ID, resource)
}

func (r *MongoRegistry) ListPrompts(ctx context.Context, serverID string) ([]api.PromptTemplate, error) {
	s, err := r.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.Prompts, nil
}

func (r *MongoRegistry) GetPrompt(ctx context.Context, serverID, ref string) (*api.PromptTemplate, error) {
	s, err := r.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	for _, p := range s.Prompts {
		if p.ID == ref || p.Name == ref {
			return &p, nil
		}
	}
	return nil, api.NewNotFoundError("prompt", ref)
}

func (r *MongoRegistry) SavePrompt(ctx context.Context, prompt *api.PromptTemplate) error {
	preparePrompt(prompt.ServerID, prompt)
	return r.upsertEmbedded(ctx, prompt.ServerID, "prompts", prompt.ID, prompt)
}

// upsertEmbedded replaces the element with the given id in an embedded array,
// appending it when absent.
func (r *MongoRegistry) upsertEmbedded(ctx context.Context, serverID, field, id string, value any) error {
	res, err := r.servers.UpdateOne(ctx,
		bson.M{"_id": serverID, field + ".id": id},
		bson.M{"$set": bson.M{field + ".$": value}})
	if err != nil {
		return fmt.Errorf("saving %s: %w", field, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	res, err = r.servers.UpdateOne(ctx, bson.M{"_id": serverID}, bson.M{"$push": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("saving %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		return api.NewNotFoundError("server", serverID)
	}
	return nil
}

func (r *MongoRegistry) AppendExecution(ctx context.Context, record *api.ExecutionRecord) error {
	doc := executionDoc{
		ID:        record.ID,
		ServerID:  record.ServerID,
		ToolID:    record.ToolID,
		ToolName:  record.ToolName,
		Actor:     record.Actor,
		Status:    string(record.Status()),
		StartedAt: record.StartedAt,
		EndedAt:   record.EndedAt,
	}
	var err error
	if doc.Input, err = toJSON(record.Input); err != nil {
		return err
	}
	if doc.Result, err = toJSON(record.Result); err != nil {
		return err
	}
	if doc.Error, err = toJSON(record.Error); err != nil {
		return err
	}
	if _, err := r.executions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &api.ConflictError{ResourceType: "execution", ResourceName: record.ID, Message: "records are append-only"}
		}
		return fmt.Errorf("appending execution %s: %w", record.ID, err)
	}
	return nil
}

func (d executionDoc) record() (*api.ExecutionRecord, error) {
	rec := &api.ExecutionRecord{
		ID:        d.ID,
		ServerID:  d.ServerID,
		ToolID:    d.ToolID,
		ToolName:  d.ToolName,
		Actor:     d.Actor,
		StartedAt: d.StartedAt,
		EndedAt:   d.EndedAt,
	}
	for _, field := range []struct {
		raw  string
		into any
	}{{d.Input, &rec.Input}, {d.Result, &rec.Result}, {d.Error, &rec.Error}} {
		if err := fromJSON(field.raw, field.into); err != nil {
			return nil, fmt.Errorf("decoding execution %s: %w", d.ID, err)
		}
	}
	return rec, nil
}

func (r *MongoRegistry) GetExecution(ctx context.Context, id string) (*api.ExecutionRecord, error) {
	var doc executionDoc
	err := r.executions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, api.NewNotFoundError("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading execution %s: %w", id, err)
	}
	return doc.record()
}

func (r *MongoRegistry) ListExecutions(ctx context.Context, filter api.ExecutionFilter) (*api.ExecutionPage, error) {
	filter = normalizeFilter(filter)
	query := bson.M{}
	if filter.ServerID != "" {
		query["serverId"] = filter.ServerID
	}
	if filter.ToolID != "" {
		query["toolId"] = filter.ToolID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Since != nil {
		query["startedAt"] = bson.M{"$gte": *filter.Since}
	}

	total, err := r.executions.CountDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "startedAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.Limit))
	cur, err := r.executions.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	var docs []executionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding executions: %w", err)
	}

	page := &api.ExecutionPage{Total: int(total), Limit: filter.Limit, Offset: filter.Offset, Records: []*api.ExecutionRecord{}}
	for _, d := range docs {
		rec, err := d.record()
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, rec)
	}
	page.HasMore = filter.Offset+len(page.Records) < page.Total
	return page, nil
}

func (r *MongoRegistry) PutCredential(ctx context.Context, cred *api.SealedCredential) error {
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = r.now()
	}
	key := credentialKey(cred.Integration, cred.Account)
	_, err := r.credentials.ReplaceOne(ctx, bson.M{"_id": key}, credentialDoc{Key: key, SealedCredential: *cred},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving credential %s: %w", key, err)
	}
	return nil
}

func (r *MongoRegistry) GetCredential(ctx context.Context, integration, account string) (*api.SealedCredential, error) {
	key := credentialKey(integration, account)
	var doc credentialDoc
	err := r.credentials.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, api.NewNotFoundError("credential", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential %s: %w", key, err)
	}
	return &doc.SealedCredential, nil
}

func (r *MongoRegistry) DeleteCredential(ctx context.Context, integration, account string) error {
	key := credentialKey(integration, account)
	res, err := r.credentials.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("deleting credential %s: %w", key, err)
	}
	if res.DeletedCount == 0 {
		return api.NewNotFoundError("credential", key)
	}
	return nil
}

func (r *MongoRegistry) ListCredentials(ctx context.Context, integration string) ([]*api.SealedCredential, error) {
	query := bson.M{}
	if integration != "" {
		query["integration"] = integration
	}
	cur, err := r.credentials.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	var docs []credentialDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	out := make([]*api.SealedCredential, len(docs))
	for i := range docs {
		out[i] = &docs[i].SealedCredential
	}
	return out, nil
}

func (r *MongoRegistry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
