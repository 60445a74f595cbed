package mysql

// Statements stay within the SQL subset shared by MySQL and SQLite so the
// same repository runs against the embedded store.

const agencyCols = `id, name, office_name, address1, address2, logo, site, site_name, site_prefix,
  daft_api_key, fourpm_branch_id, myhome_api_key, myhome_group_id, unique_key, created_at, updated_at`

const findAgencyByKeySQL = `SELECT ` + agencyCols + `
FROM agencies
WHERE unique_key = ?
ORDER BY id
LIMIT 1`

const listAgenciesSQL = `SELECT ` + agencyCols + `
FROM agencies
ORDER BY name, id`

const countAgenciesSQL = `SELECT COUNT(*) FROM agencies`

const insertAgencySQL = `
INSERT INTO agencies
  (name, office_name, address1, address2, logo, site, site_name, site_prefix,
   daft_api_key, fourpm_branch_id, myhome_api_key, myhome_group_id, unique_key)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Full-row update by internal id.
const updateAgencySQL = `
UPDATE agencies SET
  name             = ?,
  office_name      = ?,
  address1         = ?,
  address2         = ?,
  logo             = ?,
  site             = ?,
  site_name        = ?,
  site_prefix      = ?,
  daft_api_key     = ?,
  fourpm_branch_id = ?,
  myhome_api_key   = ?,
  myhome_group_id  = ?,
  unique_key       = ?,
  updated_at       = CURRENT_TIMESTAMP
WHERE id = ?
`

const deletePropertiesSQL = `DELETE FROM properties WHERE agency_id = ?`

const insertPropertySQL = `
INSERT INTO properties
  (agency_id, agency_name, agency_agent_name, house_location, house_price,
   house_bedrooms, house_bathrooms, house_mt_squared,
   house_extra_info_1, house_extra_info_2, house_extra_info_3, house_extra_info_4,
   agency_image_url, images_url_house)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const listPropertiesSQL = `
SELECT
  id, agency_id, agency_name, agency_agent_name, house_location, house_price,
  house_bedrooms, house_bathrooms, house_mt_squared,
  house_extra_info_1, house_extra_info_2, house_extra_info_3, house_extra_info_4,
  agency_image_url, images_url_house, created_at
FROM properties
WHERE agency_id = ?
ORDER BY id
`

const countPropertiesSQL = `SELECT COUNT(*) FROM properties WHERE agency_id = ?`
