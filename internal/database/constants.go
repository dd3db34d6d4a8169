package database

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the candidate pool size, used both while inserting
	// and while searching. Higher values improve recall but slow down search.
	HNSWEfSearch = 200

	// HNSWCandidates is how many neighbors the matcher asks the graph for
	// before re-scoring them exactly. The graph search stops once it holds
	// this many results, so it acts as ef at query time.
	HNSWCandidates = 200

	// HNSWMinGallerySize is the gallery size below which an exact scan is
	// cheaper than maintaining a graph.
	HNSWMinGallerySize = 1024

	// HNSWSeed fixes level assignment so the same templates give the same graph.
	HNSWSeed = 0x66616365
)

// FaceEmbeddingDim is the default dimension for face embeddings (512 for buffalo_l/ResNet100)
const FaceEmbeddingDim = 512
