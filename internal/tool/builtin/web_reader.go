package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/browsecore/browseserver/internal/tool"
)

const (
	webReaderTimeout      = 15 * time.Second
	webReaderMaxBody      = 2 << 20 // 2MB
	webReaderMaxRunes     = 8000    // 截断到 8000 字符，避免 LLM context 溢出
	webReaderUserAgent    = "PocketOmega/0.2 (Web Reader Bot)"
	webReaderMaxRedirects = 10
)

// httpClient is a dedicated HTTP client for WebReaderTool.
// Safer than http.DefaultClient: explicit timeout + redirect limit.
var httpClient = &http.Client{
	Timeout: webReaderTimeout,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= webReaderMaxRedirects {
			return fmt.Errorf("超过最大重定向次数 (%d)", webReaderMaxRedirects)
		}
		return nil
	},
}

// skipSelector matches non-content elements stripped before text extraction.
// <header> is intentionally left in unless it sits outside an <article>,
// handled separately below since goquery selectors can't express "only at
// page level".
const skipSelector = "script, style, noscript, nav, footer, form, aside, iframe, svg"

// WebReaderTool reads and extracts text content from web pages. It also
// backs the EXTRACT_TEXT step action for browser-driven tasks that fetch
// static HTML rather than a rendered DOM (internal/browserdriver's stub
// driver delegates here for pages it can retrieve without a real browser).
type WebReaderTool struct{}

func NewWebReaderTool() *WebReaderTool { return &WebReaderTool{} }

func (t *WebReaderTool) Name() string { return "web_reader" }
func (t *WebReaderTool) Description() string {
	return "读取指定 URL 的网页正文内容。适用于阅读文章、文档、新闻页面等。返回页面标题和主要文字内容。"
}

func (t *WebReaderTool) InputSchema() json.RawMessage {
	return tool.BuildSchema(
		tool.SchemaParam{
			Name:        "url",
			Type:        "string",
			Description: "要读取的网页 URL（必须以 http:// 或 https:// 开头）",
			Required:    true,
		},
	)
}

func (t *WebReaderTool) Init(_ context.Context) error { return nil }
func (t *WebReaderTool) Close() error                 { return nil }
func (t *WebReaderTool) Capabilities() []tool.ExecutionCapability {
	return []tool.ExecutionCapability{tool.CapabilityOneShot}
}

// Execute fetches the given URL, extracts the page title and main text content.
func (t *WebReaderTool) Execute(ctx context.Context, args json.RawMessage) (tool.ToolResult, error) {
	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("参数解析失败: %v", err)}, nil
	}

	url := strings.TrimSpace(a.URL)

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return tool.ToolResult{Error: "URL 必须以 http:// 或 https:// 开头"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("请求创建失败: %v", err)}, nil
	}
	req.Header.Set("User-Agent", webReaderUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := httpClient.Do(req)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("请求失败: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return tool.ToolResult{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status)}, nil
	}

	limitedReader := io.LimitReader(resp.Body, webReaderMaxBody)

	contentType := resp.Header.Get("Content-Type")
	ctLower := strings.ToLower(contentType)

	if strings.Contains(ctLower, "application/json") {
		raw, _ := io.ReadAll(limitedReader)
		var prettyBuf bytes.Buffer
		if err := json.Indent(&prettyBuf, raw, "", "  "); err == nil {
			return tool.ToolResult{Output: truncateContent(prettyBuf.String())}, nil
		}
		return tool.ToolResult{Output: truncateContent(string(raw))}, nil
	}
	if strings.Contains(ctLower, "text/plain") {
		raw, _ := io.ReadAll(limitedReader)
		return tool.ToolResult{Output: truncateContent(string(raw))}, nil
	}
	if !strings.Contains(ctLower, "text/html") && !strings.Contains(ctLower, "application/xhtml") {
		return tool.ToolResult{Error: fmt.Sprintf("不支持的内容类型: %s", contentType)}, nil
	}

	// Auto-detect charset and transcode to UTF-8 before goquery parses it.
	utf8Reader, err := charset.NewReader(limitedReader, contentType)
	if err != nil {
		utf8Reader = limitedReader
	}

	title, description, content, err := ExtractDocumentText(utf8Reader)
	if err != nil {
		return tool.ToolResult{Error: fmt.Sprintf("内容解析失败: %v", err)}, nil
	}

	var sb strings.Builder
	if title != "" {
		sb.WriteString(fmt.Sprintf("📄 标题：%s\n\n", title))
	}
	if description != "" {
		sb.WriteString(fmt.Sprintf("📝 摘要：%s\n\n", description))
	}
	if content == "" {
		sb.WriteString("⚠️ 未能提取到正文内容。")
	} else {
		sb.WriteString(truncateContent(content))
	}

	return tool.ToolResult{Output: sb.String()}, nil
}

// truncateContent limits content to webReaderMaxRunes to avoid LLM context overflow.
func truncateContent(content string) string {
	runes := []rune(content)
	if len(runes) > webReaderMaxRunes {
		return string(runes[:webReaderMaxRunes]) + "\n\n...(内容截断)"
	}
	return content
}

// ExtractDocumentText parses an HTML document with goquery and returns its
// <title>, meta description, and main body text with non-content elements
// (script/style/nav/footer/forms/page-level header) stripped. Exported so
// the browser-driver stub and the step executor's EXTRACT_TEXT action can
// reuse the same extraction logic against a fetched page body.
func ExtractDocumentText(r io.Reader) (title string, description string, content string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(`meta[name="description"]`).Each(func(_ int, s *goquery.Selection) {
		if description == "" {
			if v, ok := s.Attr("content"); ok && v != "" {
				description = v
			}
		}
	})
	if description == "" {
		doc.Find(`meta[property="og:description"]`).Each(func(_ int, s *goquery.Selection) {
			if description == "" {
				if v, ok := s.Attr("content"); ok && v != "" {
					description = v
				}
			}
		})
	}

	// A page-level <header> (not inside <article>) is navigation chrome;
	// an <article><header> is usually a byline/dateline worth keeping.
	doc.Find(skipSelector).Remove()
	doc.Find("header").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("article").Length() == 0 {
			s.Remove()
		}
	})

	var sb strings.Builder
	body := doc.Find("article")
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	body.Find("p, div, h1, h2, h3, h4, h5, h6, li, tr, blockquote, pre, td, th").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	})

	content = collapseBlankLines(strings.TrimSpace(sb.String()))
	return title, description, content, nil
}

// collapseBlankLines reduces consecutive blank lines down to at most one.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var result []string
	blankCount := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankCount++
			if blankCount <= 1 {
				result = append(result, line)
			}
		} else {
			blankCount = 0
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}
