package database

import (
	"context"
	"errors"
	"fmt"
	"picklepot/entity"
	"picklepot/internal/config"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionUsers         = "users"
	collectionPots          = "pots"
	collectionDrafts        = "pot_drafts"
	collectionJoinSessions  = "join_sessions"
	collectionEntries       = "entries"
	collectionOrgRosters    = "org_rosters"
	collectionBindings      = "pot_roster_binding"
	collectionInlineRosters = "pot_roster_inline"
	collectionNotifications = "notifications"
	collectionSubsByEmail   = "organizer_subs_emails"
	collectionSubsByUid     = "organizer_subs"

	indexNameKey  = "pot_name_key"
	indexEmailKey = "pot_email_key"
)

type MongoDB struct {
	ctx          context.Context
	client       *mongo.Client
	database     string
	transactions bool
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	ctx := context.Background()
	connection, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	m := &MongoDB{
		ctx:          ctx,
		client:       connection,
		database:     conf.Mongo.Database,
		transactions: conf.Mongo.Transactions,
	}
	if err = m.ensureIndexes(); err != nil {
		_ = connection.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) Close() {
	_ = m.client.Disconnect(m.ctx)
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

// ensureIndexes creates the identity indexes that close the duplicate-join
// race: two admissions with the same normalized name or email in one pot
// cannot both be stored while dedupe is true.
func (m *MongoDB) ensureIndexes() error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{"pot_id", 1}, {"name_key", 1}},
			Options: options.Index().
				SetName(indexNameKey).
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{"dedupe", true}}),
		},
		{
			Keys: bson.D{{"pot_id", 1}, {"email_key", 1}},
			Options: options.Index().
				SetName(indexEmailKey).
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{"dedupe", true}, {"email_key", bson.D{{"$gt", ""}}}}),
		},
		{
			Keys: bson.D{{"pot_id", 1}, {"created", 1}},
		},
		{
			Keys:    bson.D{{"moved_from", 1}, {"origin_entry_id", 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := m.collection(collectionEntries).Indexes().CreateMany(m.ctx, models)
	if err != nil {
		return fmt.Errorf("mongodb create indexes: %w", err)
	}
	_, err = m.collection(collectionPots).Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys:    bson.D{{"owner_uid", 1}, {"created", 1}},
		Options: options.Index().SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("mongodb create indexes: %w", err)
	}
	for coll, key := range map[string]string{collectionSubsByEmail: "email", collectionSubsByUid: "uid"} {
		_, err = m.collection(coll).Indexes().CreateOne(m.ctx, mongo.IndexModel{
			Keys:    bson.D{{key, 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("mongodb create indexes: %w", err)
		}
	}
	return nil
}

func (m *MongoDB) findError(err error, notFound error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notFound
	}
	return fmt.Errorf("mongodb find: %w", err)
}

// identityError maps a unique-index violation to the matching conflict.
func identityError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	if strings.Contains(err.Error(), indexEmailKey) {
		return entity.ErrDuplicateEmail
	}
	if strings.Contains(err.Error(), indexNameKey) {
		return entity.ErrDuplicateName
	}
	return entity.Conflict("duplicate key")
}

func (m *MongoDB) CreatePot(ctx context.Context, pot *entity.Pot) error {
	_, err := m.collection(collectionPots).InsertOne(ctx, pot)
	if mongo.IsDuplicateKeyError(err) {
		return entity.ErrPotExists
	}
	return err
}

func (m *MongoDB) GetPot(ctx context.Context, id string) (*entity.Pot, error) {
	var pot entity.Pot
	err := m.collection(collectionPots).FindOne(ctx, bson.D{{"_id", id}}).Decode(&pot)
	if err != nil {
		return nil, m.findError(err, entity.ErrPotNotFound)
	}
	return &pot, nil
}

// UpdatePot writes the organizer-editable fields; owner credentials are
// changed only through the credential methods.
func (m *MongoDB) UpdatePot(ctx context.Context, pot *entity.Pot) error {
	update := bson.D{{"$set", bson.D{
		{"name", pot.Name},
		{"organizer", pot.Organizer},
		{"status", pot.Status},
		{"buyin", pot.BuyIn},
		{"tier", pot.Tier},
		{"start", pot.Start},
		{"end", pot.End},
		{"share_pct", pot.SharePct},
		{"methods", pot.Methods},
		{"venue", pot.Venue},
	}}}
	res, err := m.collection(collectionPots).UpdateOne(ctx, bson.D{{"_id", pot.Id}}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return entity.ErrPotNotFound
	}
	return nil
}

func (m *MongoDB) SetPotStatus(ctx context.Context, id string, status entity.PotStatus) error {
	return m.setPotFields(ctx, id, bson.D{{"status", status}})
}

func (m *MongoDB) setPotFields(ctx context.Context, id string, fields bson.D) error {
	res, err := m.collection(collectionPots).UpdateOne(ctx, bson.D{{"_id", id}}, bson.D{{"$set", fields}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return entity.ErrPotNotFound
	}
	return nil
}

func (m *MongoDB) DeletePot(ctx context.Context, id string) error {
	res, err := m.collection(collectionPots).DeleteOne(ctx, bson.D{{"_id", id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return entity.ErrPotNotFound
	}
	if _, err = m.collection(collectionEntries).DeleteMany(ctx, bson.D{{"pot_id", id}}); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	_, _ = m.collection(collectionBindings).DeleteOne(ctx, bson.D{{"_id", id}})
	_, _ = m.collection(collectionInlineRosters).DeleteOne(ctx, bson.D{{"_id", id}})
	return nil
}

func (m *MongoDB) CountPotsSince(ctx context.Context, ownerUid string, since time.Time) (int64, error) {
	filter := bson.D{{"owner_uid", ownerUid}, {"created", bson.D{{"$gte", since}}}}
	return m.collection(collectionPots).CountDocuments(ctx, filter)
}

func (m *MongoDB) GetCredential(ctx context.Context, potId string) (*entity.Credential, error) {
	var doc struct {
		Owner entity.Credential `bson:"owner"`
	}
	opts := options.FindOne().SetProjection(bson.D{{"owner", 1}})
	err := m.collection(collectionPots).FindOne(ctx, bson.D{{"_id", potId}}, opts).Decode(&doc)
	if err != nil {
		return nil, m.findError(err, entity.ErrPotNotFound)
	}
	return &doc.Owner, nil
}

func (m *MongoDB) SetCodeHash(ctx context.Context, potId, hash string) error {
	return m.setPotFields(ctx, potId, bson.D{
		{"owner.code_hash", hash},
		{"owner.rotated", time.Now().UTC()},
	})
}

func (m *MongoDB) SetSalt(ctx context.Context, potId, salt string) error {
	return m.setPotFields(ctx, potId, bson.D{
		{"owner.salt", salt},
		{"owner.rotated", time.Now().UTC()},
	})
}

// SetCredential replaces hash and salt in a single document update.
func (m *MongoDB) SetCredential(ctx context.Context, potId string, cred entity.Credential) error {
	return m.setPotFields(ctx, potId, bson.D{{"owner", cred}})
}

func (m *MongoDB) SaveDraft(ctx context.Context, draft *entity.Pot) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection(collectionDrafts).ReplaceOne(ctx, bson.D{{"_id", draft.Id}}, draft, opts)
	return err
}

func (m *MongoDB) GetDraft(ctx context.Context, id string) (*entity.Pot, error) {
	var pot entity.Pot
	err := m.collection(collectionDrafts).FindOne(ctx, bson.D{{"_id", id}}).Decode(&pot)
	if err != nil {
		return nil, m.findError(err, entity.ErrDraftNotFound)
	}
	return &pot, nil
}

func (m *MongoDB) DeleteDraft(ctx context.Context, id string) error {
	_, err := m.collection(collectionDrafts).DeleteOne(ctx, bson.D{{"_id", id}})
	return err
}

func (m *MongoDB) SaveJoinSession(ctx context.Context, js *entity.JoinSession) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection(collectionJoinSessions).ReplaceOne(ctx, bson.D{{"_id", js.SessionId}}, js, opts)
	return err
}

func (m *MongoDB) GetJoinSession(ctx context.Context, sessionId string) (*entity.JoinSession, error) {
	var js entity.JoinSession
	err := m.collection(collectionJoinSessions).FindOne(ctx, bson.D{{"_id", sessionId}}).Decode(&js)
	if err != nil {
		return nil, m.findError(err, entity.ErrSessionNotFound)
	}
	return &js, nil
}

func (m *MongoDB) DeleteJoinSession(ctx context.Context, sessionId string) error {
	_, err := m.collection(collectionJoinSessions).DeleteOne(ctx, bson.D{{"_id", sessionId}})
	return err
}

func (m *MongoDB) SaveOrganizerSub(ctx context.Context, sub *entity.OrganizerSub) error {
	return m.saveSub(ctx, collectionSubsByEmail, bson.D{{"email", sub.Email}}, sub)
}

func (m *MongoDB) GetOrganizerSub(ctx context.Context, email string) (*entity.OrganizerSub, error) {
	return m.sub(ctx, collectionSubsByEmail, bson.D{{"email", email}})
}

func (m *MongoDB) SaveAccountSub(ctx context.Context, sub *entity.OrganizerSub) error {
	return m.saveSub(ctx, collectionSubsByUid, bson.D{{"uid", sub.Uid}}, sub)
}

func (m *MongoDB) GetAccountSub(ctx context.Context, uid string) (*entity.OrganizerSub, error) {
	return m.sub(ctx, collectionSubsByUid, bson.D{{"uid", uid}})
}

func (m *MongoDB) saveSub(ctx context.Context, coll string, filter bson.D, sub *entity.OrganizerSub) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection(coll).ReplaceOne(ctx, filter, sub, opts)
	return err
}

func (m *MongoDB) sub(ctx context.Context, coll string, filter bson.D) (*entity.OrganizerSub, error) {
	var sub entity.OrganizerSub
	err := m.collection(coll).FindOne(ctx, filter).Decode(&sub)
	if err != nil {
		return nil, m.findError(err, entity.ErrNoSubscription)
	}
	return &sub, nil
}

func (m *MongoDB) FindIdentity(ctx context.Context, potId, nameKey, emailKey string) (*entity.Entry, error) {
	or := bson.A{bson.D{{"name_key", nameKey}}}
	if emailKey != "" {
		or = append(or, bson.D{{"email_key", emailKey}})
	}
	filter := bson.D{{"pot_id", potId}, {"dedupe", true}, {"$or", or}}
	var e entity.Entry
	err := m.collection(collectionEntries).FindOne(ctx, filter).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, m.findError(err, nil)
	}
	return &e, nil
}

func (m *MongoDB) InsertEntry(ctx context.Context, entry *entity.Entry) error {
	entry.Dedupe = entry.HoldsIdentity()
	_, err := m.collection(collectionEntries).InsertOne(ctx, entry)
	if err != nil {
		return identityError(err)
	}
	return nil
}

func (m *MongoDB) GetEntry(ctx context.Context, potId, entryId string) (*entity.Entry, error) {
	var e entity.Entry
	err := m.collection(collectionEntries).FindOne(ctx, bson.D{{"_id", entryId}, {"pot_id", potId}}).Decode(&e)
	if err != nil {
		return nil, m.findError(err, entity.ErrEntryNotFound)
	}
	return &e, nil
}

func (m *MongoDB) ListEntries(ctx context.Context, potId string) ([]*entity.Entry, error) {
	opts := options.Find().SetSort(bson.D{{"created", 1}, {"_id", 1}})
	cursor, err := m.collection(collectionEntries).Find(ctx, bson.D{{"pot_id", potId}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*entity.Entry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountEntries counts the entries that hold a place in the pot.
func (m *MongoDB) CountEntries(ctx context.Context, potId string) (int64, error) {
	return m.collection(collectionEntries).CountDocuments(ctx, bson.D{{"pot_id", potId}, {"dedupe", true}})
}

func (m *MongoDB) entryExists(ctx context.Context, potId, entryId string) (bool, error) {
	n, err := m.collection(collectionEntries).CountDocuments(ctx, bson.D{{"_id", entryId}, {"pot_id", potId}})
	return n > 0, err
}

// MarkPaid flips paid only when it is not already set; the precondition lives
// in the filter so concurrent or redelivered confirmations apply once. An
// origin parked by a move in progress is never paid; the caller follows the
// relocated copy instead.
func (m *MongoDB) MarkPaid(ctx context.Context, potId, entryId string, rec entity.PaymentRecord) (bool, error) {
	filter := bson.D{
		{"_id", entryId},
		{"pot_id", potId},
		{"paid", bson.D{{"$ne", true}}},
		{"status", bson.D{{"$ne", entity.EntryRemoved}}},
	}
	update := bson.D{{"$set", bson.D{
		{"paid", true},
		{"paid_amount", rec.Amount},
		{"paid_at", rec.At},
		{"stripe_session_id", rec.SessionId},
		{"stripe_payment_intent_id", rec.PaymentIntentId},
	}}}
	res, err := m.collection(collectionEntries).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	current, err := m.GetEntry(ctx, potId, entryId)
	if err != nil {
		return false, err
	}
	if current.Status == entity.EntryRemoved {
		return false, entity.ErrRelocating
	}
	return false, nil
}

func (m *MongoDB) FindRelocated(ctx context.Context, potId, entryId string) (*entity.Entry, error) {
	var e entity.Entry
	filter := bson.D{{"moved_from", potId}, {"origin_entry_id", entryId}}
	err := m.collection(collectionEntries).FindOne(ctx, filter).Decode(&e)
	if err != nil {
		return nil, m.findError(err, entity.ErrEntryNotFound)
	}
	return &e, nil
}

func (m *MongoDB) SetEntryPaid(ctx context.Context, potId, entryId string, paid bool, at time.Time) error {
	e, err := m.GetEntry(ctx, potId, entryId)
	if err != nil {
		return err
	}
	var update bson.D
	if paid {
		update = bson.D{{"$set", bson.D{{"paid", true}, {"paid_amount", e.BuyIn}, {"paid_at", at}}}}
	} else {
		update = bson.D{
			{"$set", bson.D{{"paid", false}}},
			{"$unset", bson.D{{"paid_amount", ""}, {"paid_at", ""}}},
		}
	}
	_, err = m.collection(collectionEntries).UpdateOne(ctx, bson.D{{"_id", entryId}, {"pot_id", potId}}, update)
	return err
}

func (m *MongoDB) SetEntryStatus(ctx context.Context, potId, entryId string, status entity.EntryStatus) error {
	shape := entity.Entry{}
	shape.SetStatus(status)
	update := bson.D{{"$set", bson.D{{"status", status}, {"dedupe", shape.Dedupe}}}}
	res, err := m.collection(collectionEntries).UpdateOne(ctx, bson.D{{"_id", entryId}, {"pot_id", potId}}, update)
	if err != nil {
		return identityError(err)
	}
	if res.MatchedCount == 0 {
		return entity.ErrEntryNotFound
	}
	return nil
}

func (m *MongoDB) DeleteEntry(ctx context.Context, potId, entryId string) error {
	res, err := m.collection(collectionEntries).DeleteOne(ctx, bson.D{{"_id", entryId}, {"pot_id", potId}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return entity.ErrEntryNotFound
	}
	return nil
}

func (m *MongoDB) DeleteUnpaidEntry(ctx context.Context, potId, entryId string) (bool, error) {
	filter := bson.D{{"_id", entryId}, {"pot_id", potId}, {"paid", bson.D{{"$ne", true}}}}
	res, err := m.collection(collectionEntries).DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	if res.DeletedCount == 1 {
		return true, nil
	}
	exists, err := m.entryExists(ctx, potId, entryId)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, entity.ErrEntryNotFound
	}
	return false, nil
}

// MoveEntry inserts the relocated copy and deletes the origin. The copy takes
// its payment state from the origin as read inside the move, never from the
// caller's earlier read. With transactions enabled (replica set required)
// both writes commit together. Otherwise the origin is first parked as
// removed-pending-relocation, which MarkPaid refuses, so a crash between the
// writes never leaves it counted in two pots and no payment lands on it.
func (m *MongoDB) MoveEntry(ctx context.Context, from *entity.Entry, moved *entity.Entry) error {
	entries := m.collection(collectionEntries)
	originFilter := bson.D{{"_id", from.Id}, {"pot_id", from.PotId}}
	movable := append(originFilter, bson.E{Key: "status", Value: bson.D{{"$ne", entity.EntryRemoved}}})

	if m.transactions {
		session, err := m.client.StartSession()
		if err != nil {
			return fmt.Errorf("mongodb session: %w", err)
		}
		defer session.EndSession(ctx)
		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			var origin entity.Entry
			if err := entries.FindOne(sc, movable).Decode(&origin); err != nil {
				return nil, m.moveError(sc, from, err)
			}
			moved.CarryPayment(&origin)
			moved.Dedupe = moved.HoldsIdentity()
			// a paid flip after the read is a write conflict and retries the transaction
			res, err := entries.DeleteOne(sc, append(originFilter, bson.E{Key: "paid", Value: origin.Paid}))
			if err != nil {
				return nil, err
			}
			if res.DeletedCount == 0 {
				return nil, entity.ErrRelocating
			}
			if _, err = entries.InsertOne(sc, moved); err != nil {
				return nil, identityError(err)
			}
			return nil, nil
		})
		return err
	}

	parked := bson.D{{"$set", bson.D{{"status", entity.EntryRemoved}, {"dedupe", false}}}}
	var origin entity.Entry
	err := entries.FindOneAndUpdate(ctx, movable, parked,
		options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&origin)
	if err != nil {
		return m.moveError(ctx, from, err)
	}
	moved.CarryPayment(&origin)
	moved.Dedupe = moved.HoldsIdentity()
	if _, err = entries.InsertOne(ctx, moved); err != nil {
		restore := bson.D{{"$set", bson.D{{"status", origin.Status}, {"dedupe", origin.HoldsIdentity()}}}}
		_, _ = entries.UpdateOne(ctx, originFilter, restore)
		return identityError(err)
	}
	if _, err = entries.DeleteOne(ctx, originFilter); err != nil {
		return entity.ErrPartialMove.Wrap(err)
	}
	return nil
}

// moveError tells a missing origin from one already parked by another move.
func (m *MongoDB) moveError(ctx context.Context, from *entity.Entry, err error) error {
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	if _, gerr := m.GetEntry(ctx, from.PotId, from.Id); gerr == nil {
		return entity.ErrRelocating
	}
	return entity.ErrEntryNotFound
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	Ns            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		Id string `bson:"_id"`
	} `bson:"documentKey"`
}

// WatchEntries opens a database change stream filtered to one pot: entry
// inserts and updates, pot document changes, and every entry delete (deletes
// carry no document, the consumer recomputes from a snapshot anyway).
func (m *MongoDB) WatchEntries(ctx context.Context, potId string) (<-chan entity.EntryChange, error) {
	match := bson.D{{"$match", bson.D{{"$or", bson.A{
		bson.D{{"ns.coll", collectionEntries}, {"fullDocument.pot_id", potId}},
		bson.D{{"ns.coll", collectionEntries}, {"operationType", "delete"}},
		bson.D{{"ns.coll", collectionPots}, {"documentKey._id", potId}},
	}}}}}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := m.client.Database(m.database).Watch(ctx, mongo.Pipeline{match}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb watch: %w", err)
	}

	out := make(chan entity.EntryChange)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var evt changeEvent
			if err := stream.Decode(&evt); err != nil {
				continue
			}
			change := entity.EntryChange{PotId: potId, EntryId: evt.DocumentKey.Id}
			switch {
			case evt.Ns.Coll == collectionPots:
				change.Op = entity.ChangePot
				change.EntryId = ""
			case evt.OperationType == "insert":
				change.Op = entity.ChangeInsert
			case evt.OperationType == "delete":
				change.Op = entity.ChangeDelete
			default:
				change.Op = entity.ChangeUpdate
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MongoDB) GetOrgRoster(ctx context.Context, orgId string) ([]string, error) {
	return m.emails(ctx, collectionOrgRosters, orgId)
}

func (m *MongoDB) SaveOrgRoster(ctx context.Context, orgId string, emails []string) error {
	return m.saveEmails(ctx, collectionOrgRosters, orgId, emails, false)
}

func (m *MongoDB) GetInlineRoster(ctx context.Context, potId string) ([]string, error) {
	return m.emails(ctx, collectionInlineRosters, potId)
}

func (m *MongoDB) SetInlineRoster(ctx context.Context, potId string, emails []string) error {
	return m.saveEmails(ctx, collectionInlineRosters, potId, emails, true)
}

func (m *MongoDB) emails(ctx context.Context, coll, id string) ([]string, error) {
	var doc struct {
		Emails []string `bson:"emails"`
	}
	err := m.collection(coll).FindOne(ctx, bson.D{{"_id", id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, m.findError(err, nil)
	}
	return doc.Emails, nil
}

func (m *MongoDB) saveEmails(ctx context.Context, coll, id string, emails []string, deleteEmpty bool) error {
	collection := m.collection(coll)
	if deleteEmpty && len(emails) == 0 {
		_, err := collection.DeleteOne(ctx, bson.D{{"_id", id}})
		return err
	}
	update := bson.D{{"$set", bson.D{{"emails", emails}, {"updated", time.Now().UTC()}}}}
	opts := options.Update().SetUpsert(true)
	_, err := collection.UpdateOne(ctx, bson.D{{"_id", id}}, update, opts)
	return err
}

func (m *MongoDB) GetRosterBinding(ctx context.Context, potId string) (string, error) {
	var doc struct {
		OrgId string `bson:"org_id"`
	}
	err := m.collection(collectionBindings).FindOne(ctx, bson.D{{"_id", potId}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", m.findError(err, nil)
	}
	return doc.OrgId, nil
}

func (m *MongoDB) SetRosterBinding(ctx context.Context, potId, orgId string) error {
	collection := m.collection(collectionBindings)
	if orgId == "" {
		_, err := collection.DeleteOne(ctx, bson.D{{"_id", potId}})
		return err
	}
	update := bson.D{{"$set", bson.D{{"org_id", orgId}, {"updated", time.Now().UTC()}}}}
	opts := options.Update().SetUpsert(true)
	_, err := collection.UpdateOne(ctx, bson.D{{"_id", potId}}, update, opts)
	return err
}

func (m *MongoDB) Enqueue(ctx context.Context, n *entity.Notification) error {
	_, err := m.collection(collectionNotifications).InsertOne(ctx, n)
	return err
}

func (m *MongoDB) GetUser(token string) (*entity.User, error) {
	collection := m.collection(collectionUsers)
	filter := bson.D{{"token", token}}
	var user entity.User
	err := collection.FindOne(m.ctx, filter).Decode(&user)
	if err != nil {
		return nil, m.findError(err, entity.ErrUnauthorized)
	}
	return &user, nil
}

func (m *MongoDB) GetAllTelegramUsers() ([]*entity.User, error) {
	collection := m.collection(collectionUsers)
	filter := bson.D{{"telegram_id", bson.D{{"$gt", 0}}}}
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(m.ctx)

	var users []*entity.User
	err = cursor.All(m.ctx, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MongoDB) RegisterTelegramUser(telegramId int64, username string) error {
	collection := m.collection(collectionUsers)
	filter := bson.D{{"telegram_id", telegramId}}
	update := bson.D{
		{"$set", bson.D{{"telegram_username", username}}},
		{"$setOnInsert", bson.D{
			{"username", fmt.Sprintf("tg_%d", telegramId)},
			{"telegram_role", entity.RolePending},
			{"registered_at", time.Now().UTC()},
		}},
	}
	opts := options.Update().SetUpsert(true)
	_, err := collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

func (m *MongoDB) SetTelegramEnabled(id int64, isActive bool, logLevel int) error {
	collection := m.collection(collectionUsers)
	filter := bson.D{{"telegram_id", id}}
	update := bson.D{{"$set", bson.D{
		{"telegram_enabled", isActive},
		{"log_level", logLevel},
	}}}
	_, err := collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) SetTelegramRole(id int64, role entity.TelegramRole) error {
	collection := m.collection(collectionUsers)
	filter := bson.D{{"telegram_id", id}}
	update := bson.D{{"$set", bson.D{
		{"telegram_role", role},
		{"telegram_enabled", role == entity.RoleUser || role == entity.RoleAdmin},
	}}}
	_, err := collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) SetTelegramTopics(id int64, topics []string) error {
	collection := m.collection(collectionUsers)
	filter := bson.D{{"telegram_id", id}}
	update := bson.D{{"$set", bson.D{{"telegram_topics", topics}}}}
	_, err := collection.UpdateOne(m.ctx, filter, update)
	return err
}
