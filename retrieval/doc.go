// Package retrieval ranks stored chunks against a question.
//
// Retrieval widens in tiers until one of them finds something:
//
//  1. vector: cosine similarity above the threshold
//  2. hybrid: any of the first five query words appears in the content,
//     scored max(cosine, 0.3)
//  3. keyword: the whole question appears in the content or chapter,
//     scored 0.5
//
// Every tier applies the same class and subject filters. Storage errors stop
// the search immediately; an empty result from every tier is not an error.
package retrieval
