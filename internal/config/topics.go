package config

// NSQ topics for the document processing pipeline.
const (
	// TopicDocumentProcess carries "extracted text is available, build the
	// chunk index" tasks, published on submit, upload and reprocess.
	TopicDocumentProcess = "document.process"
)
