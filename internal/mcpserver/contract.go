package mcpserver

// PostFormatContract describes how inkwell posts are stored, for LLM
// consumers creating or updating posts through the tools.
const PostFormatContract = `# Inkwell Post Format Contract

A post is two things kept in step: a Markdown file and a record in the post
index. The tools write both; never write either by hand.

## Files

- Markdown: ` + "`" + `posts/<slug>.md` + "`" + `, plain Markdown, UTF-8, **no front matter**.
- Index: ` + "`" + `posts.json` + "`" + `, a JSON array of records, newest first:

` + "```" + `json
{
  "slug": "2024-06-01-hello",
  "title": "hello",
  "date": "2024-06-01",
  "category": "技术",
  "tags": ["go"],
  "excerpt": "first 100 characters of the body…"
}
` + "```" + `

## Rules

1. **Slug** is ` + "`" + `<date>-<title>` + "`" + `, fixed when the post is created. Changing the
   title later does not rename the file.
2. **Title** is required and may not contain ` + "`" + `/` + "`" + ` or ` + "`" + `\` + "`" + `. Any language is fine.
3. **Date** is the creation day (YYYY-MM-DD, UTC) and never changes on update.
4. **Category** defaults to ` + "`" + `技术` + "`" + ` when left empty.
5. **Tags** are a list of strings; blanks are dropped.
6. **Excerpt** is derived from the body; do not supply one.
7. The body starts directly with content. A leading ` + "`" + `# Title` + "`" + ` heading is optional.

## Images

- Upload with the ` + "`" + `upload_image` + "`" + ` tool (http(s) URL or base64 data URI). It returns
  a ` + "`" + `markdown` + "`" + ` field ready to paste into the body.
- Images live under ` + "`" + `image/` + "`" + ` as ` + "`" + `<unix-millis>-<name>` + "`" + ` and are referenced by their
  absolute public URL.
- Supported formats: png, jpg, jpeg, gif, webp, svg, bmp, ico, avif.

## Conflicts

Every write is checked against the version that was read. A conflict means
someone else changed the repository in between: read again, then retry.
Nothing is rolled back; if a save fails after the Markdown was written, run
the ` + "`" + `reconcile` + "`" + ` tool with ` + "`" + `heal: true` + "`" + `.
`
