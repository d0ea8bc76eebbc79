package notion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/model"
)

// BuildDigestPage constructs a page request summarizing a completed run:
// one heading per insight with the thesis and recommendation underneath.
func BuildDigestPage(parentPageID string, result *model.RunResult) *notionapi.PageCreateRequest {
	title := fmt.Sprintf("Insight Digest %s", time.Now().UTC().Format("2006-01-02"))

	blocks := []notionapi.Block{
		paragraph(fmt.Sprintf("Run %s · %d insights · regime: %s · fallback: %v",
			result.RunID, len(result.Insights), orDash(result.MarketRegime), result.UsedFallback)),
	}

	if len(result.TopSectors) > 0 {
		blocks = append(blocks, paragraph("Top sectors: "+strings.Join(result.TopSectors, ", ")))
	}

	for i, ins := range result.Insights {
		heading := fmt.Sprintf("%d. [%s] %s", i+1, ins.Action, ins.Title)
		blocks = append(blocks, &notionapi.Heading2Block{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeHeading2,
			},
			Heading2: notionapi.Heading{
				RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: heading}}},
			},
		})
		blocks = append(blocks, paragraph(ins.Thesis))
		detail := fmt.Sprintf("Symbol: %s · Confidence: %.0f%% · Horizon: %s",
			orDash(ins.PrimarySymbol), ins.Confidence*100, ins.TimeHorizon)
		blocks = append(blocks, paragraph(detail))
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:   notionapi.ParentTypePageID,
			PageID: notionapi.PageID(parentPageID),
		},
		Properties: notionapi.Properties{
			"title": notionapi.TitleProperty{
				Title: []notionapi.RichText{{Text: &notionapi.Text{Content: title}}},
			},
		},
		Children: blocks,
	}
}

// PublishDigest creates the digest page and returns its URL.
func PublishDigest(ctx context.Context, c Client, parentPageID string, result *model.RunResult) (string, error) {
	page, err := c.CreatePage(ctx, BuildDigestPage(parentPageID, result))
	if err != nil {
		return "", eris.Wrap(err, "notion: publish digest")
	}
	return page.URL, nil
}

func paragraph(text string) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: text}}},
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
