package dto

type SubmitDocumentRequest struct {
	DocumentID string `json:"document_id"`
	Location   string `json:"location"`
}

type ValidateDocumentRequest struct {
	Location string `json:"location"`
}

type QueryRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit,omitempty"`
}
