package prompt

// IdeasTemplate asks the ideas assistant which new tests the change needs.
// It uses Go's text/template syntax; variables come from IdeasData.
const IdeasTemplate = `Here are sections of the code that have been modified in the current commit:

` + "```" + `
{{.Changes}}
` + "```" + `

Reference the {{.SourceName}} and especially the {{.TestName}} file to determine the NEW unit tests that need to be written to address the above code modifications. There is no minimum or maximum number of unit tests but for each one you must specify the name and provide a description. Make sure the suggested tests align correctly with the testing approach and examples already established.`

// TestTemplate asks the test-writer assistant for a single test.
const TestTemplate = `Here are sections of the code that have been modified in the current commit:

` + "```" + `
{{.Changes}}
` + "```" + `

Your task is to write the following unit test{{if .Framework}} using {{.Framework}}{{end}}:

{{.Description}}

Reference the {{.TestName}} file to ensure the same conventions, approach and style is used to write this single unit test so that it integrates well into the {{.TestName}} file. If at any point you are unsure of what needs to be written in any part of the unit test, provide INLINE comments for guidance in order to avoid false and confusing code.`

// IdeasExtractSystem instructs the completion model to turn free text into JSON.
const IdeasExtractSystem = `You need to find the test name and test description for each unit test described in a section of content and return them in a JSON format.`

// IdeasExtractTemplate wraps the ideas assistant's reply for JSON extraction.
const IdeasExtractTemplate = `return json format for the following information with fields tests, test-name and test-description:

{{.Content}}`

// CodeExtractSystem instructs the completion model to keep only test code.
const CodeExtractSystem = `You need to extract only the unit test code from the content and send only the unit test code back and nothing else.`

// CodeExtractTemplate wraps the test-writer reply for code extraction.
const CodeExtractTemplate = `return only the unit test code from the following content, do not include namespace, classes or anything but the unit test definition:

{{.Content}}`
