package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/richinex/clew/chunker"
	"github.com/richinex/clew/config"
	"github.com/richinex/clew/index"
	"github.com/richinex/clew/llm"
	"github.com/richinex/clew/storage"
	"github.com/richinex/clew/subagent"
)

const rpcShutdownTimeout = 5 * time.Second

// loadSettings resolves settings, applying the --db override.
func loadSettings(opts Options) (config.Settings, error) {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}
	return settings, nil
}

// openIndex loads path into the configured backend. The returned cleanup
// releases backend resources and is never nil.
func openIndex(ctx context.Context, settings config.Settings, path string, logger *log.Logger) (index.Index, func(), error) {
	noop := func() {}

	chunkOpts, err := settings.ChunkOptions()
	if err != nil {
		return nil, noop, err
	}

	switch settings.Index.Backend {
	case config.BackendRPC:
		rpc, cleanup, err := startRPC(ctx, settings, path, chunkOpts, logger)
		if err != nil {
			return nil, noop, err
		}
		return rpc, cleanup, nil

	case config.BackendVector:
		text, err := LoadDocument(path)
		if err != nil {
			return nil, noop, err
		}
		var openAIKey string
		if settings.Index.EmbeddingProvider == "openai" {
			if openAIKey, err = config.APIKeyFor("openai"); err != nil {
				return nil, noop, err
			}
		}
		embed, err := index.EmbeddingFunc(settings.Index.EmbeddingProvider, settings.Index.EmbeddingModel, settings.Index.OllamaURL, openAIKey)
		if err != nil {
			return nil, noop, err
		}
		v, err := index.NewVector(ctx, text, chunkOpts, embed)
		if err != nil {
			return nil, noop, err
		}
		logger.Printf("embedded %d chunks with %s", v.Stats().ChunkCount, settings.Index.EmbeddingProvider)
		return v, noop, nil

	default:
		text, err := LoadDocument(path)
		if err != nil {
			return nil, noop, err
		}
		k, err := index.NewKeyword(text, chunkOpts)
		if err != nil {
			return nil, noop, err
		}
		return k, noop, nil
	}
}

// startRPC launches the document REPL and loads path in it. The REPL
// chunks by characters with the configured size and overlap.
func startRPC(ctx context.Context, settings config.Settings, path string, chunkOpts chunker.Options, logger *log.Logger) (*index.RPC, func(), error) {
	fields := strings.Fields(settings.Index.RPCCommand)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("INDEX_RPC_COMMAND is empty")
	}
	rpc, err := index.StartRPC(ctx, fields[0], fields[1:]...)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rpcShutdownTimeout)
		defer cancel()
		if err := rpc.Shutdown(shutdownCtx); err != nil {
			logger.Printf("document REPL shutdown: %v", err)
		}
	}
	info, err := rpc.Init(ctx, path, chunkOpts.Size, chunkOpts.Overlap)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load document in REPL: %w", err)
	}
	logger.Printf("REPL loaded %s: %d chunks, %d lines", info.DocumentPath, info.ChunkCount, info.LineCount)
	return rpc, cleanup, nil
}

// openStore loads path and chunks it locally for the inspection commands.
func openStore(settings config.Settings, path string) (*index.Store, error) {
	chunkOpts, err := settings.ChunkOptions()
	if err != nil {
		return nil, err
	}
	text, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return index.NewStore(text, chunkOpts)
}

// createRunner builds the sub-agent backend.
func createRunner(settings config.Settings) (subagent.Runner, error) {
	if settings.Runner.Backend == config.RunnerProcess {
		fields := strings.Fields(settings.Runner.Command)
		if len(fields) == 0 {
			return nil, fmt.Errorf("SUBAGENT_COMMAND is empty")
		}
		return &subagent.ProcessRunner{Command: fields[0], Args: fields[1:]}, nil
	}

	provider, err := createProvider(settings)
	if err != nil {
		return nil, err
	}
	return subagent.NewProviderRunner(provider, settings.ProviderType()), nil
}

func createProvider(settings config.Settings) (llm.Provider, error) {
	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	return settings.ProviderType().
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(settings.LLM.Temperature).
		APIKey(apiKey)
}

// openStorage opens the result database. A failure disables persistence
// with a warning instead of failing the command.
func openStorage(settings config.Settings) (storage.ResultStorage, func()) {
	db, err := storage.OpenSqlite(settings.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: history disabled, failed to open database: %v\n", err)
		return nil, func() {}
	}
	return db, func() {
		_ = db.Close() // Best-effort cleanup
	}
}

// newLogger writes to w when verbose and discards otherwise.
func newLogger(w io.Writer, verbose bool, prefix string) *log.Logger {
	if !verbose {
		w = io.Discard
	}
	return log.New(w, prefix, log.LstdFlags)
}
