package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

const collectionName = "ebooks"

type ebookRecord struct {
	ID                string     `bson:"_id"`
	Title             string     `bson:"title"`
	Author            string     `bson:"author"`
	Genre             string     `bson:"genre"`
	Language          string     `bson:"language"`
	FilePath          string     `bson:"filePath"`
	FileFormat        string     `bson:"fileFormat"`
	ExtractionStatus  string     `bson:"extractionStatus"`
	ExtractedTextPath string     `bson:"extractedTextPath,omitempty"`
	ExtractionError   string     `bson:"extractionError,omitempty"`
	AddedAt           time.Time  `bson:"addedAt"`
	LastProcessed     *time.Time `bson:"lastProcessed,omitempty"`
	CreatedAt         time.Time  `bson:"createdAt"`
	UpdatedAt         time.Time  `bson:"updatedAt"`
}

func toRecord(book *domain.Ebook) ebookRecord {
	return ebookRecord{
		ID:                book.ID,
		Title:             book.Title,
		Author:            book.Author,
		Genre:             book.Genre,
		Language:          book.Language,
		FilePath:          book.FilePath,
		FileFormat:        string(book.FileFormat),
		ExtractionStatus:  string(book.ExtractionStatus),
		ExtractedTextPath: book.ExtractedTextPath,
		ExtractionError:   book.ExtractionError,
		AddedAt:           book.AddedAt,
		LastProcessed:     book.LastProcessed,
		CreatedAt:         book.CreatedAt,
		UpdatedAt:         book.UpdatedAt,
	}
}

func (r ebookRecord) toDomain() domain.Ebook {
	return domain.Ebook{
		ID:                r.ID,
		Title:             r.Title,
		Author:            r.Author,
		Genre:             r.Genre,
		Language:          r.Language,
		FilePath:          r.FilePath,
		FileFormat:        domain.FileFormat(r.FileFormat),
		ExtractionStatus:  domain.ExtractionStatus(r.ExtractionStatus),
		ExtractedTextPath: r.ExtractedTextPath,
		ExtractionError:   r.ExtractionError,
		AddedAt:           r.AddedAt,
		LastProcessed:     r.LastProcessed,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// Connect dials the cluster and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

type EbookRepository struct {
	col *mongo.Collection
}

func NewEbookRepository(db *mongo.Database) *EbookRepository {
	return &EbookRepository{col: db.Collection(collectionName)}
}

func (r *EbookRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author", Value: 1}}},
		{Keys: bson.D{{Key: "addedAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create ebook indexes: %w", err)
	}
	return nil
}

func (r *EbookRepository) Create(ctx context.Context, book *domain.Ebook) error {
	if _, err := r.col.InsertOne(ctx, toRecord(book)); err != nil {
		return fmt.Errorf("insert ebook: %w", err)
	}
	return nil
}

func (r *EbookRepository) GetByID(ctx context.Context, id string) (*domain.Ebook, error) {
	var rec ebookRecord
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ebook", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("find ebook: %w", err)
	}
	book := rec.toDomain()
	return &book, nil
}

func (r *EbookRepository) List(ctx context.Context, limit int) ([]domain.Ebook, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "addedAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find ebooks: %w", err)
	}
	defer cur.Close(ctx)

	var records []ebookRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode ebooks: %w", err)
	}
	books := make([]domain.Ebook, 0, len(records))
	for _, rec := range records {
		books = append(books, rec.toDomain())
	}
	return books, nil
}

func (r *EbookRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete ebook: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.WrapError(domain.ErrNotFound, "delete ebook", fmt.Errorf("id=%s", id))
	}
	return nil
}

func (r *EbookRepository) UpdateExtraction(ctx context.Context, id string, update domain.ExtractionUpdate) error {
	set := bson.M{
		"extractionStatus": string(update.Status),
		"extractionError":  update.Error,
		"updatedAt":        update.At,
	}
	if update.Status == domain.ExtractionReady {
		set["extractedTextPath"] = update.TextPath
		set["lastProcessed"] = update.At
	}

	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update extraction status: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.WrapError(domain.ErrNotFound, "update extraction status", fmt.Errorf("id=%s", id))
	}
	return nil
}
