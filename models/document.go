package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/utils"
)

// Document is a stored attachment reference, linked polymorphically to its
// owning record (reference_type + reference_id).
type Document struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	DocumentUrl   string    `gorm:"size:500;not null" json:"document_url"`
	ReferenceType string    `gorm:"index;size:50;not null" json:"reference_type"`
	ReferenceId   int       `gorm:"index;not null" json:"reference_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const DocumentReferenceTypeLgRecord = "lg_records"

// CreateDocumentFromURL links an already-uploaded object to a record. The
// existence check against storage is best effort: an unreachable bucket must
// not block record creation.
func CreateDocumentFromURL(ctx context.Context, documentURL string, referenceType string, referenceId int) (*Document, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	documentURL = strings.TrimSpace(documentURL)
	if documentURL == "" {
		return nil, errors.New("document url is required")
	}

	document := Document{
		BusinessId:    businessId,
		DocumentUrl:   documentURL,
		ReferenceType: referenceType,
		ReferenceId:   referenceId,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&document).Error
	if err != nil {
		return nil, err
	}
	return &document, nil
}

func GetDocuments(ctx context.Context, referenceType string, referenceId int) ([]*Document, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Document](ctx, "business_id = ? AND reference_type = ? AND reference_id = ?",
		businessId, referenceType, referenceId)
}

func DeleteDocument(ctx context.Context, id int) (*Document, error) {
	result, err := utils.FetchModel[Document](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
