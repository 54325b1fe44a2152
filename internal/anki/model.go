package anki

import (
	"context"
	"log/slog"
	"slices"

	"github.com/starford/decksync/internal/models"
)

const modelCSS = `.card {
  font-family: arial;
  font-size: 20px;
  text-align: left;
  color: black;
  background-color: white;
}
.header, .footer, .sources { font-size: 14px; color: #555; }
`

const frontTemplate = `<div class="header">{{Header}}</div>
<div class="question">{{Question}}</div>
<div class="footer">{{Footer}}</div>`

const backTemplate = `{{FrontSide}}
<hr id="answer">
<div class="answer-text">{{Answer}}</div>
{{#Explanation}}<div class="explanation">{{Explanation}}</div>{{/Explanation}}
{{#Correlation}}<div class="correlation">{{Correlation}}</div>{{/Correlation}}
{{#Sources}}<div class="sources">{{Sources}}</div>{{/Sources}}`

// ModelNames lists the note types known to Anki.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.Invoke(ctx, "modelNames", nil, &names)
	return names, err
}

// EnsureModel creates the standard note type if Anki does not have it.
func (c *Client) EnsureModel(ctx context.Context) error {
	names, err := c.ModelNames(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, models.StandardCardType) {
		return nil
	}
	params := map[string]any{
		"modelName":     models.StandardCardType,
		"inOrderFields": StandardFields,
		"css":           modelCSS,
		"isCloze":       false,
		"cardTemplates": []map[string]string{{
			"Name":  "Card 1",
			"Front": frontTemplate,
			"Back":  backTemplate,
		}},
	}
	if err := c.Invoke(ctx, "createModel", params, nil); err != nil {
		return err
	}
	c.logger.Info("anki: note type created", slog.String("model", models.StandardCardType))
	return nil
}
