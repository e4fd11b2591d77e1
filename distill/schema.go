package distill

import (
	"encoding/json"
	"fmt"

	"github.com/webpeel/webpeel/models"
)

// schemaTemplates maps template names to field → question maps. Each
// field is answered by BM25 retrieval over the distilled content, so
// extraction works without any model call.
var schemaTemplates = map[string]map[string]string{
	"product": {
		"name":         "what is the product name",
		"price":        "what is the price cost amount",
		"description":  "product description details features",
		"availability": "availability in stock shipping",
		"rating":       "rating stars reviews score",
	},
	"article": {
		"headline": "article headline title",
		"author":   "author written by byline",
		"date":     "published date when written",
		"summary":  "summary overview main point",
	},
	"listing": {
		"title":    "listing title name",
		"price":    "price rent cost amount",
		"location": "location address city area",
		"details":  "details bedrooms size square",
	},
	"contact": {
		"name":    "name person company",
		"email":   "email address contact",
		"phone":   "phone number telephone call",
		"address": "address street location office",
	},
	"event": {
		"name":     "event name title",
		"date":     "event date when time schedule",
		"location": "venue location where address",
		"tickets":  "tickets price admission register",
	},
	"recipe": {
		"name":         "recipe name dish",
		"ingredients":  "ingredients list items needed",
		"instructions": "instructions steps directions method",
		"time":         "cooking time preparation minutes",
		"servings":     "servings portions serves yield",
	},
	"job": {
		"title":        "job title position role",
		"company":      "company employer organization",
		"location":     "location remote office city",
		"salary":       "salary compensation pay range",
		"requirements": "requirements qualifications experience skills",
	},
	"review": {
		"subject": "what is being reviewed product name",
		"rating":  "rating score stars out of",
		"pros":    "pros advantages positives good",
		"cons":    "cons disadvantages negatives bad",
		"verdict": "verdict conclusion recommendation summary",
	},
}

// resolveSchema turns the request's schema field into a field → question
// map: either a quoted template name or an inline JSON object.
func resolveSchema(raw json.RawMessage) (map[string]string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		tpl, ok := schemaTemplates[name]
		if !ok {
			return nil, models.NewValidationError(models.ErrCodeInvalidOpt,
				fmt.Sprintf("unknown schema template: %s", name))
		}
		return tpl, nil
	}
	var custom map[string]string
	if err := json.Unmarshal(raw, &custom); err == nil && len(custom) > 0 {
		return custom, nil
	}
	return nil, models.NewValidationError(models.ErrCodeInvalidOpt,
		"schema must be a template name or a field-to-question object")
}

// ExtractSchema answers each schema field against the content blocks and
// returns the filled record as JSON. Fields with no matching content are
// present with an empty string, so the output shape is stable.
func ExtractSchema(blocks []Block, raw json.RawMessage) (json.RawMessage, error) {
	fields, err := resolveSchema(raw)
	if err != nil {
		return nil, err
	}
	record := make(map[string]string, len(fields))
	for field, question := range fields {
		record[field] = AnswerQuestion(blocks, question)
	}
	out, err := json.Marshal(record)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeInvalidOpt, "schema extraction failed")
	}
	return out, nil
}
