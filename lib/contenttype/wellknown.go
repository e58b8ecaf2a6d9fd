// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contenttype

// Authority for the built-in content types.
const StandardAuthority = "xmtp.org"

// Built-in content types. Each has a codec in lib/contentcodec.
var (
	Text             = ID{AuthorityID: StandardAuthority, TypeID: "text", VersionMajor: 1}
	Reaction         = ID{AuthorityID: StandardAuthority, TypeID: "reaction", VersionMajor: 1}
	ReactionV2       = ID{AuthorityID: StandardAuthority, TypeID: "reaction", VersionMajor: 2}
	ReadReceipt      = ID{AuthorityID: StandardAuthority, TypeID: "readReceipt", VersionMajor: 1}
	Attachment       = ID{AuthorityID: StandardAuthority, TypeID: "attachment", VersionMajor: 1}
	RemoteAttachment = ID{AuthorityID: StandardAuthority, TypeID: "remoteStaticAttachment", VersionMajor: 1}
	GroupUpdated     = ID{AuthorityID: StandardAuthority, TypeID: "group_updated", VersionMajor: 1}
	Reply            = ID{AuthorityID: StandardAuthority, TypeID: "reply", VersionMajor: 1}
)

// IsReaction reports whether id is any version of the reaction type.
func IsReaction(id ID) bool { return id.SameType(Reaction) }
