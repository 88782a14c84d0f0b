package chroma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/storage"
)

// DefaultCollectionName names the collection when none is configured.
const DefaultCollectionName = "mutual_funds"

// Store implements storage.ChunkStore on a remote Chroma server.
type Store struct {
	client     chromago.Client
	baseURL    string
	name       string
	embedder   storage.Embedder
	logger     *slog.Logger
	now        func() time.Time
	mu         sync.RWMutex
	collection chromago.Collection

	stampMu   sync.Mutex
	lastStamp time.Time
}

var _ storage.ChunkStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithBaseURL sets the Chroma server URL.
func WithBaseURL(url string) Option {
	return func(s *Store) error {
		s.baseURL = url
		return nil
	}
}

// WithCollectionName sets the collection to use.
func WithCollectionName(name string) Option {
	return func(s *Store) error {
		if name != "" {
			s.name = name
		}
		return nil
	}
}

// WithEmbedder sets the embedder used for new chunks.
func WithEmbedder(e storage.Embedder) Option {
	return func(s *Store) error {
		s.embedder = e
		return nil
	}
}

// WithLogger sets a custom logger. If nil, uses the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// Open connects to Chroma and gets or creates the collection with cosine
// distance.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		name:   DefaultCollectionName,
		logger: slog.Default().With("component", "chroma-store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	var clientOpts []chromago.ClientOption
	if s.baseURL != "" {
		clientOpts = append(clientOpts, chromago.WithBaseURL(s.baseURL))
	}
	client, err := chromago.NewHTTPClient(clientOpts...)
	if err != nil {
		return nil, core.NewStorageFailure("connect", err)
	}
	s.client = client

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	collection, err := s.client.GetOrCreateCollection(
		ctx,
		s.name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", "cosine"),
				chromago.NewStringAttribute("description", "Mutual fund facts"),
			),
		),
	)
	if err != nil {
		return core.NewStorageFailure("get or create collection", err)
	}
	s.mu.Lock()
	s.collection = collection
	s.mu.Unlock()
	s.logger.Info("using collection", "name", s.name)
	return nil
}

func (s *Store) coll() chromago.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

// Close releases the HTTP client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) nextStamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	ts := s.now().UTC()
	if !ts.After(s.lastStamp) {
		ts = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = ts
	return ts
}

// Upsert writes chunks keyed by ID. Existing chunks under skipExisting are
// re-written with their stored text and embedding and a fresh timestamp.
func (s *Store) Upsert(ctx context.Context, chunks []core.Chunk, skipExisting bool) ([]string, error) {
	if err := core.ValidateChunks(chunks); err != nil {
		return nil, err
	}
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	if len(chunks) == 0 {
		return ids, nil
	}

	existing := map[string]storedChunk{}
	if skipExisting {
		var err error
		existing, err = s.fetch(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	pending := make([]core.Chunk, 0, len(chunks))
	var refresh []core.Chunk
	for _, c := range chunks {
		if prev, ok := existing[c.ID]; ok {
			refresh = append(refresh, core.Chunk{ID: c.ID, Text: prev.text, Vector: prev.vector, Metadata: prev.meta})
			continue
		}
		c.Metadata = c.Metadata.Clone()
		pending = append(pending, c)
	}
	if err := s.embedPending(ctx, pending); err != nil {
		return nil, err
	}

	stamp := s.nextStamp()
	if err := s.write(ctx, append(pending, refresh...), stamp); err != nil {
		return nil, err
	}
	s.logger.Debug("upserted chunks", "written", len(pending), "refreshed", len(refresh))
	return ids, nil
}

func (s *Store) embedPending(ctx context.Context, pending []core.Chunk) error {
	var (
		texts []string
		slots []int
	)
	for i := range pending {
		if len(pending[i].Vector) == 0 {
			texts = append(texts, pending[i].Text)
			slots = append(slots, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if s.embedder == nil {
		return &core.EmbeddingFailure{Kind: core.ProviderError, Err: storage.ErrEmbedderRequired}
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingFailure) {
			return err
		}
		return &core.EmbeddingFailure{Kind: core.ProviderError, Attempts: 1, Err: err}
	}
	if len(vectors) != len(texts) {
		return &core.EmbeddingFailure{
			Kind: core.ProviderError,
			Err:  fmt.Errorf("%w: got %d, want %d", storage.ErrVectorCountMismatch, len(vectors), len(texts)),
		}
	}
	for j, slot := range slots {
		pending[slot].Vector = vectors[j]
	}
	return nil
}

func (s *Store) write(ctx context.Context, chunks []core.Chunk, stamp time.Time) error {
	if len(chunks) == 0 {
		return nil
	}
	var (
		docIDs []chromago.DocumentID
		texts  []string
		embs   []embeddings.Embedding
		metas  []chromago.DocumentMetadata
	)
	for _, c := range chunks {
		c.Metadata.IngestionTimestamp = stamp
		docIDs = append(docIDs, chromago.DocumentID(c.ID))
		texts = append(texts, c.Text)
		embs = append(embs, embeddings.NewEmbeddingFromFloat32(c.Vector))
		metas = append(metas, documentMetadata(c.Metadata))
	}
	err := s.coll().Upsert(ctx,
		chromago.WithIDs(docIDs...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(embs...),
		chromago.WithMetadatas(metas...),
	)
	return core.NewStorageFailure("upsert", err)
}

type storedChunk struct {
	text   string
	vector []float32
	meta   core.Metadata
}

// fetch loads the stored records for ids that exist.
func (s *Store) fetch(ctx context.Context, ids []string) (map[string]storedChunk, error) {
	docIDs := make([]chromago.DocumentID, len(ids))
	for i, id := range ids {
		docIDs[i] = chromago.DocumentID(id)
	}
	res, err := s.coll().Get(ctx,
		chromago.WithIDsGet(docIDs...),
		chromago.WithIncludeGet(chromago.IncludeDocuments, chromago.IncludeMetadatas, chromago.IncludeEmbeddings),
	)
	if err != nil {
		return nil, core.NewStorageFailure("get", err)
	}
	gotIDs := res.GetIDs()
	docs := res.GetDocuments()
	metas := res.GetMetadatas()
	embs := res.GetEmbeddings()

	out := make(map[string]storedChunk, len(gotIDs))
	for i, id := range gotIDs {
		var rec storedChunk
		if i < len(docs) && docs[i] != nil {
			rec.text = docs[i].ContentString()
		}
		if i < len(metas) {
			rec.meta = metadataFromDocument(metas[i])
		}
		if i < len(embs) && embs[i] != nil {
			rec.vector = embs[i].ContentAsFloat32()
		}
		out[string(id)] = rec
	}
	return out, nil
}

// Scan streams every chunk's metadata.
func (s *Store) Scan(ctx context.Context, fn func(id string, meta core.Metadata) error) error {
	res, err := s.coll().Get(ctx, chromago.WithIncludeGet(chromago.IncludeMetadatas))
	if err != nil {
		return core.NewStorageFailure("scan", err)
	}
	ids := res.GetIDs()
	metas := res.GetMetadatas()
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		var meta core.Metadata
		if i < len(metas) {
			meta = metadataFromDocument(metas[i])
		}
		if err := fn(string(id), meta); err != nil {
			return err
		}
	}
	return nil
}

// SimilaritySearch returns up to k chunks by descending similarity.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int, filter storage.Filter) ([]core.Chunk, error) {
	scored, err := s.SimilaritySearchWithScore(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	chunks := make([]core.Chunk, len(scored))
	for i, sc := range scored {
		chunks[i] = sc.Chunk
	}
	return chunks, nil
}

// SimilaritySearchWithScore queries the collection and converts cosine
// distances to scores as 1 - distance.
func (s *Store) SimilaritySearchWithScore(ctx context.Context, query []float32, k int, filter storage.Filter) ([]core.ScoredChunk, error) {
	if k <= 0 || len(query) == 0 {
		return []core.ScoredChunk{}, nil
	}
	count, err := s.coll().Count(ctx)
	if err != nil {
		return nil, core.NewStorageFailure("count", err)
	}
	if count == 0 {
		return []core.ScoredChunk{}, nil
	}

	opts := []chromago.CollectionQueryOption{
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(query)),
		chromago.WithNResults(min(k, count)),
		chromago.WithIncludeQuery(chromago.IncludeDocuments, chromago.IncludeMetadatas, chromago.IncludeDistances),
	}
	if where := whereClause(filter); where != nil {
		opts = append(opts, chromago.WithWhereQuery(where))
	}
	res, err := s.coll().Query(ctx, opts...)
	if err != nil {
		return nil, core.NewStorageFailure("query", err)
	}

	results := []core.ScoredChunk{}
	idGroups := res.GetIDGroups()
	if len(idGroups) == 0 {
		return results, nil
	}
	docGroups := res.GetDocumentsGroups()
	metaGroups := res.GetMetadatasGroups()
	distGroups := res.GetDistancesGroups()

	for i, id := range idGroups[0] {
		var c core.Chunk
		c.ID = string(id)
		if len(docGroups) > 0 && i < len(docGroups[0]) && docGroups[0][i] != nil {
			c.Text = docGroups[0][i].ContentString()
		}
		if len(metaGroups) > 0 && i < len(metaGroups[0]) {
			c.Metadata = metadataFromDocument(metaGroups[0][i])
		}
		if !filter.Matches(c.Metadata) {
			continue
		}
		score := 0.0
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			score = 1 - float64(distGroups[0][i])
		}
		results = append(results, core.ScoredChunk{Chunk: c, Score: score})
	}

	slices.SortStableFunc(results, func(a, b core.ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	return results, nil
}

// GetAll returns every chunk matching filter.
func (s *Store) GetAll(ctx context.Context, filter storage.Filter) ([]core.Chunk, error) {
	opts := []chromago.CollectionGetOption{
		chromago.WithIncludeGet(chromago.IncludeDocuments, chromago.IncludeMetadatas),
	}
	if where := whereClause(filter); where != nil {
		opts = append(opts, chromago.WithWhereGet(where))
	}
	res, err := s.coll().Get(ctx, opts...)
	if err != nil {
		return nil, core.NewStorageFailure("get all", err)
	}
	ids := res.GetIDs()
	docs := res.GetDocuments()
	metas := res.GetMetadatas()

	chunks := []core.Chunk{}
	for i, id := range ids {
		c := core.Chunk{ID: string(id)}
		if i < len(metas) {
			c.Metadata = metadataFromDocument(metas[i])
		}
		if !filter.Matches(c.Metadata) {
			continue
		}
		if i < len(docs) && docs[i] != nil {
			c.Text = docs[i].ContentString()
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// CollectionInfo counts chunks and finds the latest ingestion timestamp.
func (s *Store) CollectionInfo(ctx context.Context) (core.CollectionInfo, error) {
	info := core.CollectionInfo{Name: s.name, Path: s.baseURL}
	err := s.Scan(ctx, func(_ string, meta core.Metadata) error {
		info.Count++
		if ts := meta.LatestTouch(); ts != nil {
			if info.LatestIngestionTimestamp == nil || ts.After(*info.LatestIngestionTimestamp) {
				info.LatestIngestionTimestamp = ts
			}
		}
		return nil
	})
	if err != nil {
		return core.CollectionInfo{}, err
	}
	return info, nil
}

// DeleteCollection drops the collection and creates an empty one in its
// place, so the store stays usable.
func (s *Store) DeleteCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.name); err != nil {
		return core.NewStorageFailure("delete collection", err)
	}
	s.logger.Info("deleted collection", "name", s.name)
	return s.ensureCollection(ctx)
}

// documentMetadata converts chunk metadata to Chroma attributes.
func documentMetadata(m core.Metadata) chromago.DocumentMetadata {
	fields := m.Flatten()
	attrs := make([]*chromago.MetaAttribute, 0, len(fields))
	for _, f := range fields {
		switch f.Value.Kind {
		case core.ScalarString:
			attrs = append(attrs, chromago.NewStringAttribute(f.Key, f.Value.Str))
		case core.ScalarInt:
			attrs = append(attrs, chromago.NewIntAttribute(f.Key, f.Value.Int))
		case core.ScalarFloat:
			attrs = append(attrs, chromago.NewFloatAttribute(f.Key, f.Value.Float))
		case core.ScalarBool:
			attrs = append(attrs, chromago.NewBoolAttribute(f.Key, f.Value.Bool))
		}
	}
	return chromago.NewDocumentMetadata(attrs...)
}

// metadataFromDocument decodes Chroma metadata through its JSON form,
// which is the stable public view of the attribute set.
func metadataFromDocument(meta chromago.DocumentMetadata) core.Metadata {
	if meta == nil {
		return core.Metadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return core.Metadata{}
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return core.Metadata{}
	}
	return core.MetadataFromMap(values)
}

// whereClause turns an equality filter into a Chroma where clause.
func whereClause(filter storage.Filter) chromago.WhereClause {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	clauses := make([]chromago.WhereClause, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, chromago.EqString(k, filter[k]))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return chromago.And(clauses...)
}
