// Package prompts holds every piece of text Terrarium sends to the model
// on its own behalf: the persona, the summary and transcript blocks,
// compaction instructions and the loop's budget warning.
//
// Prompt text lives in Go rather than config because it is program
// logic. Each category has its own file with an exported function that
// takes the dynamic parts and returns the interpolated string.
package prompts
