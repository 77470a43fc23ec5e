package event

// payloadSchemas declares the JSON Schema for each known event type.
// Append validation is closed-world: a type without a schema here is rejected.
var payloadSchemas = map[Type]string{
	TypeTaskIngested: `{
		"type": "object",
		"required": ["title", "source", "source_ref", "rationale"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"body": {"type": "string"},
			"source": {"type": "string", "minLength": 1},
			"source_ref": {"type": "string", "minLength": 1},
			"priority": {"enum": ["p0", "p1", "p2", "p3"]},
			"due_at": {"type": "integer"},
			"do_not_start_before": {"type": "integer"},
			"labels": {"type": "array", "items": {"type": "string"}},
			"project": {"type": "string"},
			"dedup_group_id": {"type": "string"},
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskUpdated: `{
		"type": "object",
		"required": ["fields", "rationale"],
		"properties": {
			"fields": {"type": "object"},
			"noop": {"type": "boolean"},
			"action": {"type": "string"},
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskStatusChanged: `{
		"type": "object",
		"required": ["from_status", "to_status", "rationale"],
		"properties": {
			"from_status": {"enum": ["open", "blocked", "in_progress", "done", "cancelled", "snoozed"]},
			"to_status": {"enum": ["open", "blocked", "in_progress", "done", "cancelled", "snoozed"]},
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskCompleted: `{
		"type": "object",
		"required": ["rationale"],
		"properties": {
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskCancelled: `{
		"type": "object",
		"required": ["rationale"],
		"properties": {
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskSnoozed: `{
		"type": "object",
		"required": ["until", "rationale"],
		"properties": {
			"until": {"type": "integer", "minimum": 0},
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskLinked: `{
		"type": "object",
		"required": ["blocked_by", "rationale"],
		"properties": {
			"blocked_by": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"rationale": {"type": "string"}
		}
	}`,
	TypeTaskDedupLinked: `{
		"type": "object",
		"required": ["dedup_group_id", "member_ids", "rationale"],
		"properties": {
			"dedup_group_id": {"type": "string", "minLength": 1},
			"member_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"rationale": {"type": "string"}
		}
	}`,
	TypeNoteRecorded: `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeTrackRecorded: `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"status": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeControlChanged: `{
		"type": "object",
		"required": ["version", "mode", "shadow_confidence_threshold", "actor", "rationale"],
		"properties": {
			"version": {"type": "integer", "minimum": 1},
			"mode": {"enum": ["deterministic", "shadow", "bounded"]},
			"shadow_confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
			"actor": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"previous_version": {"type": "integer", "minimum": 0},
			"run_id": {"type": "string"}
		}
	}`,
	TypeExperimentRun: `{
		"type": "object",
		"required": ["run_id", "candidate_mode", "candidate_threshold", "actor", "rationale", "status"],
		"properties": {
			"run_id": {"type": "string", "minLength": 1},
			"candidate_mode": {"enum": ["deterministic", "shadow", "bounded"]},
			"candidate_threshold": {"type": "number", "minimum": 0, "maximum": 1},
			"actor": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"status": {"enum": ["proposed", "completed"]},
			"metrics": {"type": "object", "additionalProperties": {"type": "number"}}
		}
	}`,
	TypeExperimentDecided: `{
		"type": "object",
		"required": ["run_id", "action", "actor", "rationale"],
		"properties": {
			"run_id": {"type": "string", "minLength": 1},
			"action": {"enum": ["apply", "rollback", "no_op"]},
			"actor": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"}
		}
	}`,
}
