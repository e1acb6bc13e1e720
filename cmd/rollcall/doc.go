// Command rollcall resolves speaker names found in meeting transcripts to
// roster identities.
//
// It runs either as a long-lived HTTP service (rollcall serve) or as one-shot
// commands against the configured mapping store:
//
//	rollcall resolve --scope proj-1 "Jon Smith" "Speaker 2"
//	rollcall confirm --scope proj-1 --email jane@x.com "Speaker 2"
//	rollcall forget --scope proj-1 "Speaker 2"
//	rollcall mappings --scope proj-1
//	rollcall history --scope proj-1
//
// Configuration comes from ROLLCALL_* environment variables.
package main
