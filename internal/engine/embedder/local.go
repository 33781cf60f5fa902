package embedder

import (
	"context"
	"fmt"
	"path/filepath"
)

func init() {
	Register("onnx", func(cfg Config) (Embedder, error) {
		dir := cfg.ModelDir
		if dir == "" {
			dir = "models"
		}
		var opts []Option
		if proj := filepath.Join(dir, "2_Dense", "model.safetensors"); fileExists(proj) {
			opts = append(opts, WithProjection(proj))
		}
		return New(filepath.Join(dir, "model.onnx"), filepath.Join(dir, "vocab.txt"), opts...)
	})
}

// Option configures an ONNXEmbedder.
type Option func(*onnxOptions)

type onnxOptions struct {
	projectionPath string
	normalize      bool
}

// WithProjection adds a dense projection layer loaded from a safetensors file.
func WithProjection(path string) Option {
	return func(o *onnxOptions) { o.projectionPath = path }
}

// WithoutNormalization disables L2 normalization of output vectors.
func WithoutNormalization() Option {
	return func(o *onnxOptions) { o.normalize = false }
}

// ONNXEmbedder runs a sentence-transformer model (all-MiniLM-L6-v2 and
// similar BERT-style encoders) locally through ONNX Runtime.
type ONNXEmbedder struct {
	session   *session
	tok       *wordPiece
	proj      *dense // nil when the model has no dense head
	normalize bool
}

// New creates an ONNXEmbedder. The pipeline is:
// tokenize → ONNX inference → mean pool → optional projection → L2 normalize.
func New(modelPath, vocabPath string, opts ...Option) (*ONNXEmbedder, error) {
	o := onnxOptions{normalize: true}
	for _, opt := range opts {
		opt(&o)
	}

	sess, err := openSession(modelPath)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	tok, err := newWordPiece(vocabPath)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	e := &ONNXEmbedder{session: sess, tok: tok, normalize: o.normalize}
	if o.projectionPath != "" {
		proj, err := loadDense(o.projectionPath)
		if err != nil {
			sess.close()
			return nil, fmt.Errorf("embedder: %w", err)
		}
		if int(sess.hidden) != proj.in {
			sess.close()
			return nil, fmt.Errorf("embedder: model hidden size %d != projection input %d",
				sess.hidden, proj.in)
		}
		e.proj = proj
	}
	return e, nil
}

// EmbedDim returns the final embedding dimensionality.
func (e *ONNXEmbedder) EmbedDim() int {
	if e.proj != nil {
		return e.proj.out
	}
	return int(e.session.hidden)
}

// Embed produces a single embedding vector for the given text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch produces one vector per text in a single inference call.
// Inference itself is not interruptible; ctx is checked before it starts.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	batch := e.tok.encodeBatch(texts)

	hidden, err := e.session.run(batch)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	dim := e.session.hidden
	pooled := meanPool(hidden, batch.attentionMask, batch.rows, batch.width, dim)

	results := make([][]float32, batch.rows)
	for i := int64(0); i < batch.rows; i++ {
		vec := pooled[i*dim : (i+1)*dim : (i+1)*dim]
		if e.proj != nil {
			vec = e.proj.apply(vec)
		}
		if e.normalize {
			l2Normalize(vec)
		}
		results[i] = vec
	}
	return results, nil
}

// Close releases ONNX Runtime resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.close()
	}
	return nil
}
