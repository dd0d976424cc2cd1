package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripsphere/backend/internal/ingest"
	"github.com/tripsphere/backend/internal/queue"
	"github.com/tripsphere/backend/internal/util"

	oai "github.com/tripsphere/backend/pkg/ai/openai"
	"github.com/tripsphere/backend/pkg/blob"
	"github.com/tripsphere/backend/pkg/embed"
	"github.com/tripsphere/backend/pkg/graph"
	"github.com/tripsphere/backend/pkg/graphstore"
	"github.com/tripsphere/backend/pkg/leaselock"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/logger/console"
	"github.com/tripsphere/backend/pkg/pipeline"
	"github.com/tripsphere/backend/pkg/splitter"
	"github.com/tripsphere/backend/pkg/token"
	"github.com/tripsphere/backend/pkg/vector"
	"github.com/tripsphere/backend/pkg/workflow"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/semaphore"
)

const (
	jobPollInterval   = 5 * time.Second
	staleJobThreshold = 15 * time.Minute
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 blob store
	s3Client, err := blob.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	blobs, err := blob.NewS3Store(blob.NewS3StoreParams{
		Client: s3Client,
		Bucket: util.GetEnv("S3_BUCKET"),
		Prefix: util.GetEnvString("S3_PREFIX", "indexing"),
	})
	if err != nil {
		logger.Fatal("Failed to create blob store", "err", err)
	}

	// Init pgx client
	poolConfig, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to parse database url", "err", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pgConn, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	dimensions := int(util.GetEnvNumeric("EMBED_DIMENSIONS", 3072))
	units, err := vector.NewStore(ctx, pgConn, dimensions)
	if err != nil {
		logger.Fatal("Failed to open vector store", "err", err)
	}

	// AI client
	aiClient := oai.NewClient(oai.NewClientParams{
		EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
		ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		Dimensions:      dimensions,

		EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
		EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		ChatURL:      util.GetEnv("AI_CHAT_URL"),
		ChatKey:      util.GetEnv("AI_CHAT_KEY"),

		MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
	})

	tokenizer, err := token.New(util.GetEnvString("TOKEN_ENCODING", "cl100k_base"))
	if err != nil {
		logger.Fatal("Failed to create tokenizer", "err", err)
	}
	split, err := splitter.NewSplitter(splitter.NewSplitterParams{
		Tokenizer:      tokenizer,
		TokensPerChunk: int(util.GetEnvNumeric("SPLIT_TOKENS_PER_CHUNK", 0)),
		ChunkOverlap:   int(util.GetEnvNumeric("SPLIT_CHUNK_OVERLAP", 0)),
	})
	if err != nil {
		logger.Fatal("Failed to create splitter", "err", err)
	}
	embedder, err := embed.NewGateway(embed.NewGatewayParams{
		Client:    aiClient,
		Tokenizer: tokenizer,
		Normalize: util.GetEnvBool("EMBED_NORMALIZE", true),
	})
	if err != nil {
		logger.Fatal("Failed to create embedding gateway", "err", err)
	}
	extractor, err := graph.NewExtractor(graph.NewExtractorParams{
		Client: aiClient,
	})
	if err != nil {
		logger.Fatal("Failed to create extractor", "err", err)
	}

	// Graph database is optional; without it only parquet artifacts are
	// produced.
	var graphdb *graphstore.Client
	if uri := util.GetEnv("NEO4J_URI"); uri != "" {
		graphdb, err = graphstore.NewClient(ctx, graphstore.NewClientParams{
			URI:      uri,
			User:     util.GetEnv("NEO4J_USER"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		})
		if err != nil {
			logger.Fatal("Failed to connect to neo4j", "err", err)
		}
		defer graphdb.Close(context.Background())
	}

	policy, err := graph.ParseDescriptionPolicy(util.GetEnv("DESCRIPTION_POLICY"))
	if err != nil {
		logger.Fatal("Invalid description policy", "err", err)
	}
	pipe, err := pipeline.New(pipeline.NewPipelineParams{
		Units:             units,
		Blobs:             blobs,
		Embedder:          embedder,
		Extractor:         extractor,
		Graph:             graphdb,
		DescriptionPolicy: policy,
		ExtractionThreads: int(util.GetEnvNumeric("EXTRACT_THREADS", 4)),
	})
	if err != nil {
		logger.Fatal("Failed to create pipeline", "err", err)
	}

	jobs := workflow.NewPGJobStore(pgConn)
	runner, err := workflow.NewRunner(workflow.NewRunnerParams{
		Jobs:  jobs,
		Blobs: blobs,
	})
	if err != nil {
		logger.Fatal("Failed to create runner", "err", err)
	}
	locks := leaselock.New(pgConn)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// Review ingestion consumer
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	svc, err := ingest.NewService(ingest.NewServiceParams{
		Splitter: split,
		Embedder: embedder,
		Units:    units,
	})
	if err != nil {
		logger.Fatal("Failed to create ingest service", "err", err)
	}
	consumer, err := queue.NewConsumer(queue.NewConsumerParams{
		Channel: consumerCh,
		Handler: svc,
	})
	if err != nil {
		logger.Fatal("Failed to create consumer", "err", err)
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal("Consumer stopped", "err", err)
		}
	}()

	// Re-queue jobs a dead worker left RUNNING. Their checkpoints make the
	// resumed run cheap.
	recovered, err := jobs.RecoverStale(ctx, staleJobThreshold)
	if err != nil {
		logger.Error("Failed to recover stale jobs", "err", err)
	} else if recovered > 0 {
		logger.Info("Recovered stale jobs", "count", recovered)
	}

	maxJobs := int64(util.GetEnvNumeric("MAX_PARALLEL_JOBS", 2))
	sem := semaphore.NewWeighted(maxJobs)

	logger.Info("Worker ready", "max_parallel_jobs", maxJobs)

	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case <-ticker.C:
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		job, err := jobs.ClaimSubmitted(ctx)
		if err != nil {
			logger.Error("Failed to claim job", "err", err)
			sem.Release(1)
			continue
		}
		if job == nil {
			sem.Release(1)
			continue
		}

		go func(job *workflow.Job) {
			defer sem.Release(1)
			runJob(ctx, locks, runner, pipe, job)
		}(job)
	}
}

// runJob executes one indexing job under the target's lease so concurrent
// runs against the same target are serialised.
func runJob(ctx context.Context, locks *leaselock.Client, runner *workflow.Runner, pipe *pipeline.Pipeline, job *workflow.Job) {
	logger.Info("Starting index job", "task", job.ID, "target", job.TargetID, "type", job.TargetType)

	key := "index:" + job.TargetType + ":" + job.TargetID
	err := locks.WithLease(ctx, key, leaselock.Options{Wait: true}, func(ctx context.Context) error {
		return runner.Run(ctx, job, pipe.Stages())
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("Index job interrupted", "task", job.ID)
			return
		}
		if errors.Is(err, workflow.ErrCanceled) {
			logger.Info("Index job canceled", "task", job.ID, "target", job.TargetID)
			return
		}
		logger.Error("Index job failed", "task", job.ID, "err", err)
		return
	}
	logger.Info("Index job completed", "task", job.ID, "target", job.TargetID)
}
