package catalog

// Raw GraphQL documents. Only the fields enumerated here are relied on;
// the wire decoders tolerate anything extra the server adds.

const sceneFields = `
	id
	title
	details
	url
	date
	rating100
	organized
	created_at
	updated_at
	files {
		id
		path
		size
		width
		height
		duration
		frame_rate
		video_codec
		fingerprints { type value }
	}
	performers { id name }
	tags { id name }
	studio { id name }
	scene_markers {
		id
		seconds
		end_seconds
		title
		primary_tag { id }
		tags { id }
	}`

const queryFindScenes = `
query FindScenes($filter: FindFilterType, $scene_filter: SceneFilterType) {
	findScenes(filter: $filter, scene_filter: $scene_filter) {
		count
		scenes {` + sceneFields + `
		}
	}
}`

const queryFindScene = `
query FindScene($id: ID!) {
	findScene(id: $id) {` + sceneFields + `
	}
}`

const queryAllPerformers = `
query AllPerformers($filter: FindFilterType, $performer_filter: PerformerFilterType) {
	findPerformers(filter: $filter, performer_filter: $performer_filter) {
		count
		performers { id name alias_list updated_at }
	}
}`

const queryAllTags = `
query AllTags($filter: FindFilterType, $tag_filter: TagFilterType) {
	findTags(filter: $filter, tag_filter: $tag_filter) {
		count
		tags { id name parents { id } updated_at }
	}
}`

const queryAllStudios = `
query AllStudios($filter: FindFilterType, $studio_filter: StudioFilterType) {
	findStudios(filter: $filter, studio_filter: $studio_filter) {
		count
		studios { id name parent_studio { id } updated_at }
	}
}`

const queryStats = `
query Stats {
	stats {
		scene_count
		performer_count
		tag_count
		studio_count
	}
}`

const mutationSceneUpdate = `
mutation SceneUpdate($input: SceneUpdateInput!) {
	sceneUpdate(input: $input) { id }
}`

const mutationBulkSceneUpdate = `
mutation BulkSceneUpdate($input: BulkSceneUpdateInput!) {
	bulkSceneUpdate(input: $input) { id }
}`

const mutationPerformerCreate = `
mutation PerformerCreate($input: PerformerCreateInput!) {
	performerCreate(input: $input) { id name alias_list }
}`

const mutationTagCreate = `
mutation TagCreate($input: TagCreateInput!) {
	tagCreate(input: $input) { id name }
}`

const mutationStudioCreate = `
mutation StudioCreate($input: StudioCreateInput!) {
	studioCreate(input: $input) { id name }
}`

const mutationMarkerCreate = `
mutation SceneMarkerCreate($input: SceneMarkerCreateInput!) {
	sceneMarkerCreate(input: $input) { id }
}`

const mutationMarkerDestroy = `
mutation SceneMarkerDestroy($id: ID!) {
	sceneMarkerDestroy(id: $id)
}`
